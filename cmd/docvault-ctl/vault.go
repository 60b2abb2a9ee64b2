package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// statsCmd shows vault statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vault statistics",
	Long:  `Display document counts, total size, and encryption coverage per backend.`,
	Example: `  # Show statistics
  docvault-ctl stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Fetching statistics...")
		stats, err := apiClient.Statistics(ctx)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to fetch statistics: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(stats)
		}

		fmt.Printf("%s\n", Bold("Vault Statistics"))
		fmt.Printf("  Documents:  %d\n", stats.TotalDocuments)
		fmt.Printf("  Total size: %s\n", formatBytes(stats.TotalBytes))
		fmt.Printf("  Encrypted:  %d (%.1f%%)\n", stats.EncryptedDocuments, stats.EncryptionPercent)
		fmt.Println()

		if len(stats.Backends) > 0 {
			headers := []string{"BACKEND", "DOCUMENTS", "SIZE", "ENCRYPTED"}

			names := make([]string, 0, len(stats.Backends))
			for name := range stats.Backends {
				names = append(names, name)
			}
			sort.Strings(names)

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				bs := stats.Backends[name]
				rows = append(rows, []string{
					name,
					fmt.Sprintf("%d", bs.Documents),
					formatBytes(bs.Bytes),
					fmt.Sprintf("%d", bs.Encrypted),
				})
			}
			printTable(headers, rows)
		}

		return nil
	},
}

// storageCmd shows backend availability
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show storage backend status",
	Long:  `Probe every configured storage backend and report availability.`,
	Example: `  # Check backend health
  docvault-ctl storage`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Probing backends...")
		status, err := apiClient.StorageStatus(ctx)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to fetch storage status: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(status)
		}

		fmt.Printf("%s\n", Bold("Storage Status"))
		fmt.Printf("  Preference: %s\n", status.StoragePreference)
		fmt.Println()

		names := make([]string, 0, len(status.Backends))
		for name := range status.Backends {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			st := status.Backends[name]
			if st.Available {
				fmt.Printf("  %s %s\n", Green("●"), name)
			} else {
				fmt.Printf("  %s %s %s\n", Red("●"), name, Dim(st.Error))
			}
		}

		return nil
	},
}

// auditCmd lists recent audit trail entries
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail",
	Long:  `List recent audit entries: who stored, retrieved, migrated, or deleted which document.`,
	Example: `  # Show the 20 most recent audit entries
  docvault-ctl audit --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		limit, _ := cmd.Flags().GetInt("limit")

		ShowSpinner("Fetching audit trail...")
		resp, err := apiClient.AuditLogs(ctx, limit)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to fetch audit trail: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		if len(resp.Entries) == 0 {
			fmt.Println(Dim("No audit entries found."))
			return nil
		}

		headers := []string{"TIME", "ACTION", "FILE ID", "ACTOR"}
		rows := make([][]string, len(resp.Entries))
		for i, e := range resp.Entries {
			rows[i] = []string{
				formatTimestamp(e.Timestamp),
				e.Action,
				truncate(e.FileID, 24),
				e.Actor,
			}
		}
		printTable(headers, rows)

		return nil
	},
}

// migrateCmd is the parent command for migration operations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate sensitive documents into the vault",
	Long:  `Commands for vaulting classified documents individually or in batches.`,
}

// migrateFileCmd migrates a single local file
var migrateFileCmd = &cobra.Command{
	Use:   "file <file>",
	Short: "Migrate a single document",
	Long: `Read a local file and vault it as a classified sensitive document.

The document is hashed, tagged with compliance metadata, encrypted, and
stored. Use --findings to record how many sensitive findings
classification reported.`,
	Example: `  # Migrate a document with 5 findings
  docvault-ctl migrate file ./tax-records.pdf --findings 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		filePath := args[0]
		fileID, _ := cmd.Flags().GetString("id")
		contentType, _ := cmd.Flags().GetString("content-type")
		findings, _ := cmd.Flags().GetInt("findings")

		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		fileName := filepath.Base(filePath)
		if fileID == "" {
			fileID = fileName[:len(fileName)-len(filepath.Ext(fileName))]
		}

		ShowSpinner("Migrating document...")
		resp, err := apiClient.MigrateSensitive(ctx, fileID, fileName, contentType, content, findings)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to migrate document: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		Success(fmt.Sprintf("Migrated %s", Bold(fileName)))
		fmt.Printf("  Vault path: %s\n", resp.VaultPath)
		fmt.Printf("  Hash:       %s\n", resp.FileHash)
		fmt.Printf("  Compliance: %s\n", resp.ComplianceLevel)
		fmt.Printf("  Retention:  %s\n", resp.RetentionPolicy)

		return nil
	},
}

// migrateBatchCmd runs a batch migration from a candidates file
var migrateBatchCmd = &cobra.Command{
	Use:   "batch <candidates.json>",
	Short: "Run a batch migration",
	Long: `Submit a batch of classifier results for migration.

The candidates file is a JSON array of objects:
  [{"file_id": "...", "file_name": "...", "finding_count": 5}, ...]

Documents whose finding count meets the server's threshold are fetched
from their source, vaulted, and removed from the source.`,
	Example: `  # Run a batch migration
  docvault-ctl migrate batch ./scan-results.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read candidates file: %w", err)
		}

		var candidates []MigrationCandidate
		if err := json.Unmarshal(data, &candidates); err != nil {
			return fmt.Errorf("invalid candidates file: %w", err)
		}

		ShowSpinner(fmt.Sprintf("Migrating %d candidates...", len(candidates)))
		summary, err := apiClient.AutoMigrate(ctx, candidates)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("batch migration failed: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(summary)
		}

		fmt.Printf("%s\n", Bold("Migration Summary"))
		fmt.Printf("  Migrated: %d\n", len(summary.Migrated))
		fmt.Printf("  Failed:   %d\n", len(summary.Failed))
		fmt.Printf("  Skipped:  %d\n", summary.Skipped)

		if len(summary.Migrated) > 0 {
			fmt.Println()
			headers := []string{"FILE ID", "NAME", "VAULT PATH"}
			rows := make([][]string, len(summary.Migrated))
			for i, item := range summary.Migrated {
				rows[i] = []string{
					truncate(item.FileID, 16),
					item.FileName,
					truncate(item.VaultPath, 56),
				}
			}
			printTable(headers, rows)
		}

		for _, item := range summary.Failed {
			Warning(fmt.Sprintf("%s (%s): %s", item.FileName, item.FileID, item.Error))
		}

		return nil
	},
}

func init() {
	auditCmd.Flags().Int("limit", 0, "Maximum number of entries (default: 50)")

	migrateFileCmd.Flags().String("id", "", "Document ID (default: file name without extension)")
	migrateFileCmd.Flags().String("content-type", "application/octet-stream", "Document content type")
	migrateFileCmd.Flags().Int("findings", 0, "Number of sensitive findings reported by classification")

	migrateCmd.AddCommand(migrateFileCmd)
	migrateCmd.AddCommand(migrateBatchCmd)
}
