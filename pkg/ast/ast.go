// Grammar of peak constraint expressions, e.g. "p2 * 3" or
// "(A + B) / 2 - 0.5". Identifiers name sibling peaks.
package ast

type Expression struct {
	Left  *Term     `parser:"@@"`
	Right []*OpTerm `parser:"@@*"`
}

type OpTerm struct {
	Operator string `parser:"@('+' | '-')"`
	Term     *Term  `parser:"@@"`
}

type Term struct {
	Left  *Factor     `parser:"@@"`
	Right []*OpFactor `parser:"@@*"`
}

type OpFactor struct {
	Operator string  `parser:"@('*' | '/')"`
	Factor   *Factor `parser:"@@"`
}

type Factor struct {
	Negated bool        `parser:"@'-'?"`
	Number  *float64    `parser:"( @(Float | Int)"`
	Ref     *string     `parser:"| @Ident"`
	Sub     *Expression `parser:"| '(' @@ ')' )"`
}
