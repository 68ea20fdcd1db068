package main

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// maxImportBytes bounds the import payload; anything larger is not a bundle
// we produced.
const maxImportBytes = 10 << 20

var (
	passphrase string
	exportOut  string
)

// Indirection for tests.
var readPassword = term.ReadPassword

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export settings to an encrypted bundle",
	Long: `Export bundles the capability manifest and the task store into one
passphrase-encrypted, base64-encoded payload, written to --out or stdout.
Credentials and the .env file are deliberately excluded; keys never leave
this machine.

The passphrase comes from DARBY_PASSPHRASE, --passphrase, or an interactive
prompt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pass := getPassphrase("Enter passphrase: ", true)
		if pass == "" {
			return fmt.Errorf("passphrase is required for export")
		}

		payload, err := cfg.Export(pass)
		if err != nil {
			return err
		}

		if exportOut != "" {
			if err := os.WriteFile(exportOut, []byte(payload), 0o600); err != nil {
				return fmt.Errorf("write export bundle: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Settings exported to %s\n", exportOut)
			return nil
		}
		fmt.Println(payload)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import settings from an encrypted bundle",
	Long: `Import decrypts a bundle produced by "darby export" and restores the
capability manifest and task store to their configured paths. Use "-" to
read the payload from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := readImportPayload(args[0])
		if err != nil {
			return err
		}

		pass := getPassphrase("Enter passphrase: ", false)
		if pass == "" {
			return fmt.Errorf("passphrase is required for import")
		}

		if err := cfg.Import(string(data), pass); err != nil {
			return err
		}

		fmt.Println("Settings imported successfully")
		fmt.Println("Restart the daemon to pick them up")
		return nil
	},
}

func readImportPayload(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(io.LimitReader(os.Stdin, maxImportBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if len(data) > maxImportBytes {
			return nil, fmt.Errorf("payload exceeds %d bytes", maxImportBytes)
		}
		return data, nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxImportBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxImportBytes)
	}
	return os.ReadFile(path)
}

// getPassphrase resolves the passphrase: environment variable first, then the
// flag, then an interactive prompt. Prompts go to stderr so a payload on
// stdout stays clean. Returns "" when no passphrase could be obtained.
func getPassphrase(prompt string, confirm bool) string {
	if pass := os.Getenv("DARBY_PASSPHRASE"); pass != "" {
		return pass
	}
	if passphrase != "" {
		return passphrase
	}

	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := readPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	pass := string(bytePassword)

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		bytePassword2, err := readPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return ""
		}
		if string(bytePassword2) != pass {
			fmt.Fprintln(os.Stderr, "Passphrases do not match")
			return ""
		}
	}

	return pass
}

func init() {
	exportCmd.Flags().StringVar(&passphrase, "passphrase", "", "encryption passphrase (prefer DARBY_PASSPHRASE)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "write the bundle to this file instead of stdout")
	importCmd.Flags().StringVar(&passphrase, "passphrase", "", "decryption passphrase (prefer DARBY_PASSPHRASE)")
}
