package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tablescan/internal/typing"
)

// newClassifyCmd creates the 'classify' subcommand. The column is taken from
// the arguments, or from stdin one cell per line when there are none.
func newClassifyCmd() *cobra.Command {
	var perCell bool
	cmd := &cobra.Command{
		Use:         "classify [cells...]",
		Short:       "Classifies a column of cells",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			column := args
			if len(column) == 0 {
				var err error
				if column, err = readCells(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if perCell {
				for _, cell := range column {
					if _, err := fmt.Fprintf(out, "%s\t%q\n", typing.ClassifyCell(cell), cell); err != nil {
						return err
					}
				}
			}
			_, err := fmt.Fprintln(out, typing.ClassifyColumn(column))
			return err
		},
	}
	cmd.Flags().BoolVar(&perCell, "cells", false, "print the type of every cell before the column type")
	return cmd
}

func readCells(r io.Reader) ([]string, error) {
	var cells []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		cells = append(cells, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cells: %w", err)
	}
	return cells, nil
}
