package domain

// VariableDeclaration declares an exercise variable and how it is initialised
type VariableDeclaration struct {
	ID         int64
	Name       string `validate:"required"`
	Expression string
	Domain     EvalDomain
}

// VariableUpdate re-evaluates a declared variable at a stage trigger point
type VariableUpdate struct {
	ID         int64
	Variable   string `validate:"required"`
	Expression string
	Domain     EvalDomain
	Order      int
}
