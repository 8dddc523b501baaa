package arq

// Invoker runs completion callbacks whose parameters are bound by type.
type Invoker interface {
	Call(fn interface{}, exact []interface{}, value interface{}) error
}
