package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/boxeval/internal/detection/storage/sqlite"
)

func runHistory(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("history-db", "", "SQLite history database (required)")
	name := fs.String("name", "", "Only list runs with this name")
	limit := fs.Int("limit", 20, "Maximum number of runs (0 for all)")
	show := fs.String("show", "", "Print the stored run with this ID as JSON")
	del := fs.String("delete", "", "Delete the stored run with this ID")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("--history-db is required")
	}
	if *show != "" && *del != "" {
		return fmt.Errorf("--show and --delete are mutually exclusive")
	}

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	store := sqlite.NewHistoryStore(db)

	switch {
	case *show != "":
		run, err := store.Get(*show)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(run, "", "    ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case *del != "":
		if err := store.Delete(*del); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "Deleted run %s\n", *del)
		return err
	}

	runs, err := store.List(*name, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tNAME\tNDS\tmAP\tRESULT\tRUN ID")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\t%s\t%s\n",
			time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339), r.Name, r.NDScore, r.MeanAP, r.ResultPath, r.RunID)
	}
	return tw.Flush()
}
