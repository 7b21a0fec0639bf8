package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/markhub/internal/integrations"
)

var importAllFlag bool

var importCmd = &cobra.Command{
	Use:   "import [id]",
	Short: "Import bookmarks from an integration",
	Long:  "Import bookmarks from one integration, or from every ready integration with --all, and store them.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !importAllFlag && len(args) == 0 {
			return fmt.Errorf("specify an integration id or --all")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		if importAllFlag {
			results := a.manager.ImportFromAll(ctx)
			stored, err := a.indexer.IngestAll(ctx, results)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(map[string]any{"results": results, "stored": stored})
			}
			if len(results) == 0 {
				fmt.Println("No integration is enabled and configured.")
				return nil
			}
			for _, id := range sortedKeys(results) {
				res := results[id]
				if s := stored[id]; s != nil {
					fmt.Printf("%s %s: %d imported, %d new, %d duplicates, %d failed\n",
						sourceIcon(id), id, res.Imported, s.New, s.Duplicates, res.Failed)
				} else {
					fmt.Printf("%s %s: failed\n", sourceIcon(id), id)
				}
				printErrors(res.Errors)
			}
			return nil
		}

		id := args[0]
		res, err := a.manager.ImportFromIntegration(ctx, id)
		if err != nil {
			return err
		}
		stats, err := a.indexer.Ingest(ctx, id, res)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"result": res, "stored": stats})
		}
		fmt.Printf("%s %s: %d imported, %d new, %d duplicates, %d failed\n",
			sourceIcon(id), id, res.Imported, stats.New, stats.Duplicates, res.Failed)
		printErrors(res.Errors)
		return nil
	},
}

var autoSyncFlag bool

var syncCmd = &cobra.Command{
	Use:   "sync [id]",
	Short: "Sync with an integration",
	Long:  "Sync with one integration, or with every integration that is due with --auto.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !autoSyncFlag && len(args) == 0 {
			return fmt.Errorf("specify an integration id or --auto")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		var results map[string]*integrations.SyncResult
		if autoSyncFlag {
			results = a.manager.AutoSync(ctx)
		} else {
			res, err := a.manager.SyncWithIntegration(ctx, args[0])
			if err != nil {
				return err
			}
			results = map[string]*integrations.SyncResult{args[0]: res}
		}

		if len(results) == 0 {
			fmt.Println("Nothing is due for sync.")
			return nil
		}
		for _, id := range sortedKeys(results) {
			res := results[id]
			if !res.Success {
				fmt.Printf("%s %s: failed\n", sourceIcon(id), id)
				printErrors(res.Errors)
				continue
			}
			stats, err := a.indexer.Ingest(ctx, id, &integrations.ImportResult{
				Success:  true,
				Imported: res.Imported,
				Errors:   res.Errors,
				Data:     res.Data,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s %s: %d pulled, %d new\n", sourceIcon(id), id, res.Imported, stats.New)
			printErrors(res.Errors)
		}
		return nil
	},
}

var (
	exportFromStore bool
	exportFile      string
	exportOut       string
)

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export bookmarks to an integration",
	Long:  "Export stored bookmarks (--from-store) or a JSON array of bookmarks (--file) to an integration.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		var bookmarks []integrations.BookmarkData
		switch {
		case exportFile != "":
			raw, err := os.ReadFile(exportFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", exportFile, err)
			}
			if err := json.Unmarshal(raw, &bookmarks); err != nil {
				return fmt.Errorf("failed to parse %s: %w", exportFile, err)
			}
		case exportFromStore:
			stored, err := a.store.List(nil, 0)
			if err != nil {
				return err
			}
			for i := range stored {
				bookmarks = append(bookmarks, stored[i].BookmarkData())
			}
		default:
			return fmt.Errorf("specify --from-store or --file")
		}

		res, err := a.manager.ExportToIntegration(ctx, id, bookmarks)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s: %d exported, %d failed\n", sourceIcon(id), id, res.Exported, res.Failed)
		printErrors(res.Errors)

		if id == integrations.ChromeID {
			chrome, err := a.chrome()
			if err != nil {
				return err
			}
			if data := chrome.ExportData(); data != "" {
				path := exportOut
				if path == "" {
					if err := os.MkdirAll(a.cfg.ExportDir(), 0755); err != nil {
						return err
					}
					path = filepath.Join(a.cfg.ExportDir(), fmt.Sprintf("chrome-bookmarks-%s.json", time.Now().Format("20060102-150405")))
				}
				if err := os.WriteFile(path, []byte(data), 0644); err != nil {
					return fmt.Errorf("failed to write export: %w", err)
				}
				fmt.Printf("Wrote %s\n", path)
			}
		}
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <bookmarks-file>",
	Short: "Upload a Chrome Bookmarks file for import",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		chrome, err := a.chrome()
		if err != nil {
			return err
		}
		if err := chrome.UploadFile(data, filepath.Base(args[0])); err != nil {
			return err
		}
		a.manager.Persist(integrations.ChromeID)
		fmt.Printf("Uploaded %s (%d bytes). Run `markhub enable chrome` and `markhub import chrome` to import it.\n", filepath.Base(args[0]), len(data))
		return nil
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	importCmd.Flags().BoolVarP(&importAllFlag, "all", "a", false, "Import from every ready integration")
	importCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	syncCmd.Flags().BoolVar(&autoSyncFlag, "auto", false, "Sync every integration that is due")
	exportCmd.Flags().BoolVar(&exportFromStore, "from-store", false, "Export every stored bookmark")
	exportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "JSON file with bookmarks to export")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Where to write the Chrome export file")
	rootCmd.AddCommand(importCmd, syncCmd, exportCmd, uploadCmd)
}
