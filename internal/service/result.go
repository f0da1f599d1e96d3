package service

import "time"

const (
	StatusOK    = "200"
	StatusError = "500"
)

const (
	MsgSuccess             = "SUCCESS"
	MsgUserNotExist        = "USER_NOT_EXIST"
	MsgWrongPassword       = "WRONG_PASSWORD"
	MsgEmailAlreadyExisted = "EMAIL_ALREADY_EXISTED"
	MsgInvalidWallet       = "INVALID_WALLET"
	MsgErrorOccured        = "ERROR_OCCURED"
	MsgUsernameExist       = "USERNAME_EXIST"
	MsgUsernameNotExist    = "USERNAME_NOT_EXIST"
	MsgEmailExist          = "EMAIL_EXIST"
	MsgEmailNotExist       = "EMAIL_NOT_EXIST"
	MsgValidUsername       = "VALID_USERNAME"
	MsgInvalidUsername     = "INVALID_USERNAME"
	MsgTooManyAttempts     = "TOO_MANY_ATTEMPTS"
	MsgAvatarRejected      = "INVALID_AVATAR"
	MsgAvatarNotFound      = "AVATAR_NOT_FOUND"
)

// Result is the envelope every account operation returns. StatusCode is the string "200" or "500".
type Result struct {
	StatusCode string `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`

	RetryAfter time.Duration `json:"-"`
}

func (r Result) OK() bool { return r.Message == MsgSuccess }

func success(data any) Result {
	return Result{StatusCode: StatusOK, Message: MsgSuccess, Data: data}
}

func outcome(message string) Result {
	return Result{StatusCode: StatusOK, Message: message}
}

func failure(message string) Result {
	return Result{StatusCode: StatusError, Message: message}
}
