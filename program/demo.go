package program

import _ "embed"

//go:embed demo.ks
var demoSource []byte

// Demo returns the built-in boot program.
func Demo() *Script {
	ret, err := Parse("demo.ks", demoSource)
	if err != nil {
		panic(err)
	}
	return ret
}
