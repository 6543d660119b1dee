package graphql

// Scalar aliases matching the GraphQL schema's built-in types. Query result
// structs use these so a field's wire type is visible at the declaration.
type (
	// ID represents a unique identifier scalar. Shopify IDs are GID strings.
	ID = string

	// String represents a UTF-8 string scalar.
	String = string

	// Int represents a signed 32-bit integer scalar.
	Int = int32

	// Float represents a double-precision float scalar.
	Float = float64

	// Boolean represents a true/false scalar.
	Boolean = bool
)
