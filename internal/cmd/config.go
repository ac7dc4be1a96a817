package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian"
	"github.com/spf13/cobra"
)

// Prompter defines the interface for reading user input
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// StdinPrompter reads from stdin
type StdinPrompter struct {
	reader *bufio.Reader
}

// NewStdinPrompter creates a prompter that reads from stdin
func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{reader: bufio.NewReader(os.Stdin)}
}

// Prompt displays a prompt and reads user input
func (p *StdinPrompter) Prompt(prompt string) (string, error) {
	fmt.Print(prompt)
	input, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// ReaderPrompter reads from a provided reader (for testing)
type ReaderPrompter struct {
	reader *bufio.Reader
}

// NewReaderPrompter creates a prompter that reads from the provided reader
func NewReaderPrompter(r io.Reader) *ReaderPrompter {
	return &ReaderPrompter{reader: bufio.NewReader(r)}
}

// Prompt reads input from the reader
func (p *ReaderPrompter) Prompt(prompt string) (string, error) {
	input, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

// NewConfigCmd creates the config command
func NewConfigCmd(prompter Prompter) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Configure the librarian",
		Long:  "Interactive configuration for the meeting librarian",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := prompter
			if p == nil {
				p = NewStdinPrompter()
			}
			return runConfig(cmd, p)
		},
	}
}

func runConfig(cmd *cobra.Command, prompter Prompter) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Meeting Librarian Configuration")
	fmt.Fprintln(out, "===============================")
	fmt.Fprintln(out, "")

	watchDir, err := promptRequired(prompter, "Recordings folder to watch [required]: ")
	if err != nil {
		return err
	}
	outputDir, err := promptRequired(prompter, "Library folder for filed recordings [required]: ")
	if err != nil {
		return err
	}
	scriberrURL, err := promptRequired(prompter, "Scriberr API URL [required]: ")
	if err != nil {
		return err
	}
	scriberrKey, err := prompter.Prompt("Scriberr API key [optional, Enter to skip]: ")
	if err != nil {
		return err
	}
	telegramToken, err := promptRequired(prompter, "Telegram bot token [required]: ")
	if err != nil {
		return err
	}
	chatIDStr, err := promptRequired(prompter, "Telegram chat ID [required]: ")
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatIDStr, err)
	}
	calendarID, err := prompter.Prompt(fmt.Sprintf("Google calendar ID [default: %s]: ", librarian.DefaultCalendarID))
	if err != nil {
		return err
	}
	credsPath, err := prompter.Prompt("Google OAuth credentials file [optional, Enter to skip]: ")
	if err != nil {
		return err
	}
	spreadsheetID, err := prompter.Prompt("Meeting-log spreadsheet ID [optional, Enter to skip]: ")
	if err != nil {
		return err
	}
	openRouterKey, err := prompter.Prompt("OpenRouter API key [optional, Enter to skip]: ")
	if err != nil {
		return err
	}
	offsetStr, err := prompter.Prompt("Timezone offset of recording timestamps in hours [default: 0]: ")
	if err != nil {
		return err
	}
	var offset float64
	if offsetStr != "" {
		offset, err = strconv.ParseFloat(offsetStr, 64)
		if err != nil {
			return fmt.Errorf("invalid timezone offset %q: %w", offsetStr, err)
		}
	}

	cfg := &librarian.Config{
		WatchDir:              watchDir,
		OutputDir:             outputDir,
		ScriberrURL:           scriberrURL,
		ScriberrAPIKey:        scriberrKey,
		TelegramToken:         telegramToken,
		TelegramChatID:        chatID,
		CalendarID:            calendarID,
		GoogleCredentialsPath: credsPath,
		SpreadsheetID:         spreadsheetID,
		OpenRouterAPIKey:      openRouterKey,
		TimezoneOffsetHours:   offset,
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	configPath := filepath.Join(librarian.ConfigDir(), librarian.ConfigFileName)
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Configuration saved to %s\n", configPath)

	return nil
}

// promptRequired prompts for a required field, returning an error if empty
func promptRequired(prompter Prompter, prompt string) (string, error) {
	value, err := prompter.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("value is required")
	}
	return value, nil
}
