package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reiase/probing/internal/proto"
)

var queryCmd = &cobra.Command{
	Use:   "query <pid> <sql>",
	Short: "Run a tabular query against the target",
	Long: `Run a SQL query over the target's diagnostic tables.

Examples:
  probing query 31337 "SELECT * FROM system.process"
  probing query 31337 "SELECT name, value FROM information_schema.df_settings WHERE name LIKE 'script.%'"
  probing query 31337 "SELECT ts, value FROM series.loss ORDER BY ts DESC LIMIT 10"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialTarget(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		schema, pages, err := c.Query(args[1])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for i, col := range schema {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, col.Name)
		}
		fmt.Fprintln(w)
		rows := 0
		for _, page := range pages {
			for r := 0; r < page.NumRows(); r++ {
				for ci, col := range page.Columns {
					if ci > 0 {
						fmt.Fprint(w, "\t")
					}
					fmt.Fprint(w, cellString(col, r))
				}
				fmt.Fprintln(w)
				rows++
			}
		}
		w.Flush()
		fmt.Printf("(%d rows)\n", rows)
		return nil
	},
}

// cellString renders one column cell for terminal output.
func cellString(c proto.Column, i int) string {
	if c.IsNull(i) {
		return "NULL"
	}
	switch c.Type {
	case proto.TypeBool:
		return strconv.FormatBool(c.Bools[i])
	case proto.TypeInt8, proto.TypeInt16, proto.TypeInt32, proto.TypeInt64:
		return strconv.FormatInt(c.Ints[i], 10)
	case proto.TypeUint8, proto.TypeUint16, proto.TypeUint32, proto.TypeUint64:
		return strconv.FormatUint(c.Uints[i], 10)
	case proto.TypeFloat32, proto.TypeFloat64:
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	case proto.TypeString:
		return c.Strings[i]
	case proto.TypeBytes:
		return fmt.Sprintf("%d bytes", len(c.Bytes[i]))
	case proto.TypeTimestamp:
		return time.Unix(0, c.Timestamps[i]).UTC().Format(time.RFC3339Nano)
	default:
		return "?"
	}
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
