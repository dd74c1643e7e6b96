package kv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := kvStore.Set(args[0], []byte(args[1])); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	setECmd = &cobra.Command{
		Use:   "setE [key] [value] [ttl]",
		Short: "Sets the value for a key that expires after ttl (e.g. 30s, 5m)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return fmt.Errorf("ttl must be a duration: %w", err)
			}
			if err := kvStore.SetE(args[0], []byte(args[1]), ttl); err != nil {
				return err
			}
			fmt.Println("setE successfully")
			return nil
		},
	}
	setEIfUnsetCmd = &cobra.Command{
		Use:   "setEIfUnset [key] [value] [ttl]",
		Short: "Sets the value for a key with expiration if the key is not already set (ttl 0 = never)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return fmt.Errorf("ttl must be a duration: %w", err)
			}
			ok, err := kvStore.SetEIfUnset(args[0], []byte(args[1]), ttl)
			if err != nil {
				return err
			}
			fmt.Printf("written=%t\n", ok)
			return nil
		},
	}
	casCmd = &cobra.Command{
		Use:   "cas [key] [version] [value]",
		Short: "Sets the value for a key if its current version matches (0 = key must not exist)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("version must be a number: %w", err)
			}
			ok, err := kvStore.CompareAndSet(args[0], version, []byte(args[2]), 0)
			if err != nil {
				return err
			}
			fmt.Printf("swapped=%t\n", ok)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value and version for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, ok, err := kvStore.GetRecord(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s, found=false\n", args[0])
				return nil
			}
			expires := "never"
			if rec.ExpireAt > 0 {
				expires = time.Unix(0, rec.ExpireAt).Format(time.RFC3339)
			}
			fmt.Printf("key=%s, found=true, version=%d, expires=%s, value=%s\n", args[0], rec.Version, expires, rec.Value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := kvStore.Delete(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("deleted=%t\n", existed)
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := kvStore.Has(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", args[0], found)
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [pattern]",
		Short: "Lists all keys matching a glob pattern (default: all keys)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			count, _ := cmd.Flags().GetInt("count")

			var cursor uint64
			for {
				next, keys, err := kvStore.Scan(cursor, count, pattern)
				if err != nil {
					return err
				}
				for _, key := range keys {
					fmt.Println(key)
				}
				if next == 0 {
					return nil
				}
				cursor = next
			}
		},
	}
	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Writes all live records to a file (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w io.Writer = os.Stdout
			if args[0] != "-" {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			bw := bufio.NewWriter(w)
			if err := kvStore.Export(bw); err != nil {
				return err
			}
			return bw.Flush()
		},
	}
	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Reads records written by export (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			if err := kvStore.Import(bufio.NewReader(r)); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "import successfully")
			return nil
		},
	}
)
