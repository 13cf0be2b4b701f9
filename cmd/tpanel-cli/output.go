package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"google.golang.org/protobuf/types/known/structpb"
)

type outputMode struct {
	json bool
}

func (o outputMode) printJSON(value any) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal("format json", err)
	}
	fmt.Println(string(data))
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// commandResult prints a panel command outcome and exits non-zero when the
// panel did not accept it.
func (o outputMode) commandResult(panel, action string, resp *structpb.Struct) {
	ok := resp.Fields["ok"].GetBoolValue()
	if o.json {
		o.printJSON(resp.AsMap())
	} else if ok {
		fmt.Printf("ok: %s %s\n", panel, action)
	} else {
		fmt.Printf("failed: %s %s\n", panel, action)
	}
	if !ok {
		os.Exit(1)
	}
}
