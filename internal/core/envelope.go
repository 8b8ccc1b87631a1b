package core

// SuccessOrError is the uniform command result envelope. Exactly one branch
// is populated.
type SuccessOrError struct {
	Success  bool         `json:"success"`
	Response any          `json:"response,omitempty"`
	Error    *DomainError `json:"error,omitempty"`
}

func Ok(response any) SuccessOrError {
	return SuccessOrError{Success: true, Response: response}
}

func OkEmpty() SuccessOrError {
	return SuccessOrError{Success: true}
}

func Fail(err *DomainError) SuccessOrError {
	if err == nil {
		err = InternalError()
	}
	return SuccessOrError{Success: false, Error: err}
}
