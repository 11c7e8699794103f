package control

import "strconv"

func KeepAlive(count string) Message {
	return New(MethodKeepAlive).With(FieldCount, count)
}

func LabelComputed(label string) Message {
	return New(MethodLabelComputed).With(FieldLabel, label)
}

// LabelComputedWithTruth carries the ground-truth marker that triggered the prediction.
func LabelComputedWithTruth(label string, trueLabel int) Message {
	return LabelComputed(label).With(FieldTrueLabel, strconv.Itoa(trueLabel))
}

func SessionStopped(sessionName string) Message {
	return New(MethodSessionStopped).With(FieldSessionName, sessionName)
}

func StopBuilding(sessionName string, validAccuracy float64) Message {
	return New(MethodStopBuilding).
		With(FieldSessionName, sessionName).
		With(FieldValidAccuracy, validAccuracy)
}

// InvalidMessageError is the reply for unparseable or unrecognized input.
func InvalidMessageError(raw, comment string) Message {
	return New(MethodError).
		With(FieldReason, ReasonInvalidMessage).
		With(FieldRaw, raw).
		With(FieldComment, comment)
}

// OperationFailedError is the reply for a failure while starting or running a session.
func OperationFailedError(raw, detail, comment string) Message {
	return New(MethodError).
		With(FieldReason, ReasonOperationFailed).
		With(FieldRaw, raw).
		With(FieldComment, comment).
		With(FieldDetail, detail)
}
