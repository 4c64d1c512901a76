package main

import (
	"encoding/json"
	"fmt"
)

// print escribe v como JSON indentado (--out json) o text.
func (cl *cli) print(v any, text string) error {
	if cl.out == "json" {
		return cl.printJSON(v)
	}
	_, err := fmt.Fprintln(cl.stdout, text)
	return err
}

func (cl *cli) printJSON(v any) error {
	p, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cl.stdout, string(p))
	return err
}
