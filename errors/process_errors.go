package errors

// 流程引擎特有错误代码，复用 AppError/IError 体系。
const (
	ErrCodeDefinitionNotFound ErrorCode = "DEFINITION_NOT_FOUND"
	ErrCodeInstanceNotFound   ErrorCode = "INSTANCE_NOT_FOUND"
	ErrCodeHandlerFailure     ErrorCode = "HANDLER_FAILURE"
	ErrCodeCancelled          ErrorCode = "CANCELLED_OPERATION"
)

// NewDefinitionNotFound 构造“流程定义未找到”错误。
func NewDefinitionNotFound(ref string) IError {
	return NewError(ErrCodeDefinitionNotFound, "process definition not found: "+ref)
}

// NewInstanceNotFound 构造“流程实例未找到”错误。
func NewInstanceNotFound(id string) IError {
	return NewError(ErrCodeInstanceNotFound, "process instance not found: "+id)
}

// NewHandlerFailure 包装任务处理器返回的错误。
func NewHandlerFailure(elementId string, cause error) IError {
	return WrapError(cause, ErrCodeHandlerFailure, "task handler failed for element "+elementId)
}

// NewConcurrencyConflict 构造乐观并发冲突错误。
func NewConcurrencyConflict(resource string) IError {
	return NewError(ErrCodeConcurrency, "concurrency conflict on "+resource)
}

// NewCancelled 构造协作式取消错误。
func NewCancelled() IError {
	return NewError(ErrCodeCancelled, "operation cancelled")
}
