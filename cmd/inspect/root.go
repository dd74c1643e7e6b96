package inspect

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ValentinKolb/hKV/cmd/util"
	"github.com/ValentinKolb/hKV/lib/db/engines/hybridlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// InspectCmd verifies every data file of a database directory
var InspectCmd = &cobra.Command{
	Use:   "inspect [dir]",
	Short: "Verify the checksums of a data directory and print per file statistics",
	Long: `Walks every segment and disk file of a data directory (default: --data-dir) and
verifies the checksum of every record. The directory is only read, so a running
database may be inspected. Exits with an error if corruption was found.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return util.BindCommandFlags(cmd) },
	RunE:    run,
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	InspectCmd.Flags().Bool("json", false, util.WrapString("Print one JSON object per file instead of a table"))
}

// jsonReport adds the corruption message, FileReport.Err is not serialized
type jsonReport struct {
	hybridlog.FileReport
	Corruption string `json:"corruption,omitempty"`
}

func run(cmd *cobra.Command, args []string) error {
	dir := viper.GetString("data-dir")
	if len(args) == 1 {
		dir = args[0]
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	var (
		corrupt int
		enc     = json.NewEncoder(os.Stdout)
		tw      = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	)
	if !asJSON {
		fmt.Fprintln(tw, "FILE\tKIND\tBYTES\tRECORDS\tTOMBSTONES\tEXPIRED\tVERSIONS\tSTATUS")
	}

	err := hybridlog.Inspect(dir, func(r hybridlog.FileReport) {
		status := "ok"
		if r.Err != nil {
			corrupt++
			status = r.Err.Error()
		}
		if asJSON {
			out := jsonReport{FileReport: r}
			if r.Err != nil {
				out.Corruption = status
			}
			_ = enc.Encode(out)
			return
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d..%d\t%s\n",
			r.Name, r.Kind, r.Bytes, r.Records, r.Tombstones, r.Expired, r.MinVersion, r.MaxVersion, status)
	})
	if !asJSON {
		tw.Flush()
	}
	if err != nil {
		return err
	}
	if corrupt > 0 {
		return fmt.Errorf("%d corrupt file(s) in %s", corrupt, dir)
	}
	return nil
}
