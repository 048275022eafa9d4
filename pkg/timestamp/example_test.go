package timestamp_test

import (
	"fmt"

	"github.com/c360/obdstream/pkg/timestamp"
)

func ExampleParseMs() {
	for _, s := range []string{"1709280000250", " 1709280000250.6 ", "soon"} {
		ms, ok := timestamp.ParseMs(s)
		fmt.Println(ms, ok)
	}
	// Output:
	// 1709280000250 true
	// 1709280000251 true
	// 0 false
}
