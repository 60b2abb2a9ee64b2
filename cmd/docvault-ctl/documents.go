package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// documentCmd is the parent command for document operations
var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"documents", "doc"},
	Short:   "Manage vault documents",
	Long:    `Commands for storing, retrieving, listing, and deleting vault documents.`,
}

// documentListCmd lists vault documents
var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vault documents",
	Long: `List vault documents across all storage backends, most recent first.

Filters:
  --prefix    Filter by document ID or name prefix
  --limit     Maximum number of results`,
	Example: `  # List all documents
  docvault-ctl document list

  # List documents for one source
  docvault-ctl document list --prefix doc-123

  # List the 10 most recent documents
  docvault-ctl document list --limit 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		prefix, _ := cmd.Flags().GetString("prefix")
		limit, _ := cmd.Flags().GetInt("limit")

		ShowSpinner("Fetching documents...")
		resp, err := apiClient.ListDocuments(ctx, prefix, limit)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		if len(resp.Documents) == 0 {
			fmt.Println(Dim("No documents found."))
			return nil
		}

		headers := []string{"VAULT PATH", "FILE ID", "NAME", "SIZE", "ENCRYPTED", "STORED"}
		rows := make([][]string, len(resp.Documents))
		for i, d := range resp.Documents {
			rows[i] = []string{
				truncate(d.VaultPath, 56),
				truncate(d.FileID, 16),
				d.FileName,
				formatBytes(d.Size),
				formatBool(d.Encrypted),
				formatTimestamp(d.StorageTimestamp),
			}
		}

		printTable(headers, rows)

		for backend, msg := range resp.BackendErrors {
			fmt.Printf("\n%s %s backend degraded: %s\n", Yellow("!"), backend, msg)
		}

		return nil
	},
}

// documentStoreCmd stores a local file in the vault
var documentStoreCmd = &cobra.Command{
	Use:   "store <file>",
	Short: "Store a document in the vault",
	Long: `Read a local file, encrypt it, and store it in the vault.

The document ID defaults to the file name without extension; override
it with --id. The content type defaults to application/octet-stream.`,
	Example: `  # Store a document
  docvault-ctl document store ./report.pdf

  # Store with an explicit ID and content type
  docvault-ctl document store ./report.pdf --id q3-report --content-type application/pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		filePath := args[0]
		fileID, _ := cmd.Flags().GetString("id")
		contentType, _ := cmd.Flags().GetString("content-type")

		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		fileName := filepath.Base(filePath)
		if fileID == "" {
			fileID = fileName[:len(fileName)-len(filepath.Ext(fileName))]
		}

		ShowSpinner("Storing document...")
		resp, err := apiClient.StoreDocument(ctx, fileID, fileName, contentType, content)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to store document: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		Success(fmt.Sprintf("Stored %s", Bold(fileName)))
		fmt.Printf("  Vault path: %s\n", resp.VaultPath)
		if len(resp.VaultPaths) > 1 {
			for _, p := range resp.VaultPaths[1:] {
				fmt.Printf("  Replica:    %s\n", p)
			}
		}
		fmt.Printf("  Encrypted:  %s", formatBool(resp.Encrypted))
		if resp.EncryptionType != "" {
			fmt.Printf(" %s", Dim("("+resp.EncryptionType+")"))
		}
		fmt.Println()

		for _, f := range resp.Failures {
			Warning(fmt.Sprintf("%s backend failed: %s", f.Backend, f.Error))
		}

		return nil
	},
}

// documentGetCmd retrieves a document
var documentGetCmd = &cobra.Command{
	Use:   "get <vault-path>",
	Short: "Retrieve a document from the vault",
	Long: `Retrieve and decrypt a vault document.

By default the document metadata is displayed. Use --out to write the
decrypted content to a local file.`,
	Example: `  # Show document details
  docvault-ctl document get "bucket://documents/doc-1_20240307_091542_report.pdf"

  # Save the decrypted content locally
  docvault-ctl document get "bucket://documents/doc-1_20240307_091542_report.pdf" --out report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		vaultPath := args[0]
		outPath, _ := cmd.Flags().GetString("out")

		ShowSpinner("Retrieving document...")
		doc, err := apiClient.GetDocument(ctx, vaultPath)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to retrieve document: %w", err)
		}

		content, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			return fmt.Errorf("failed to decode document content: %w", err)
		}

		if outPath != "" {
			if err := os.WriteFile(outPath, content, 0600); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			Success(fmt.Sprintf("Wrote %s to %s", Bold(doc.FileName), outPath))
			return nil
		}

		if outputFormat == "json" {
			return printJSON(doc)
		}

		fmt.Printf("%s\n", Bold("Document Details"))
		fmt.Printf("  File ID:      %s\n", doc.FileID)
		fmt.Printf("  Name:         %s\n", doc.FileName)
		fmt.Printf("  Vault path:   %s\n", doc.VaultPath)
		fmt.Printf("  Content type: %s\n", doc.ContentType)
		fmt.Printf("  Size:         %s\n", formatBytes(int64(len(content))))
		fmt.Printf("  Encrypted:    %s\n", formatBool(doc.Encrypted))

		return nil
	},
}

// documentDeleteCmd removes a document
var documentDeleteCmd = &cobra.Command{
	Use:   "delete <vault-path>",
	Short: "Delete a document from the vault",
	Long:  `Permanently remove a document from its storage backend.`,
	Example: `  # Delete a document
  docvault-ctl document delete "bucket://documents/doc-1_20240307_091542_report.pdf"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vaultPath := args[0]

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Printf("Delete %s? [y/N]: ", Bold(vaultPath))
			var answer string
			fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		ShowSpinner("Deleting document...")
		err := apiClient.DeleteDocument(ctx, vaultPath)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}

		Success(fmt.Sprintf("Deleted %s", vaultPath))
		return nil
	},
}

func init() {
	documentListCmd.Flags().String("prefix", "", "Filter by document ID or name prefix")
	documentListCmd.Flags().Int("limit", 0, "Maximum number of results")

	documentStoreCmd.Flags().String("id", "", "Document ID (default: file name without extension)")
	documentStoreCmd.Flags().String("content-type", "application/octet-stream", "Document content type")

	documentGetCmd.Flags().String("out", "", "Write decrypted content to this file")

	documentDeleteCmd.Flags().BoolP("force", "f", false, "Skip confirmation prompt")

	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentStoreCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentDeleteCmd)
}
