package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wardlinehq/wardline/pkg/wardline/config"
	"github.com/wardlinehq/wardline/pkg/wardline/store"
)

// newSetupCmd creates the `wardline setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes the initial config.yaml.
API keys and the telephony auth token are stored in the OS keyring, never in
the config file.

Examples:
  wardline setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()

	var (
		agentKey   string
		sttKey     string
		ttsKey     string
		accountSID string
		authToken  string
		callerNum  string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Public URL").
				Description("Base URL the telephony provider reaches this server on (e.g. https://wardline.example.com).").
				Value(&cfg.Server.PublicURL),
			huh.NewInput().
				Title("Database path").
				Value(&cfg.Database.Path),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("LLM API key").
				Description("Used for turn planning and memory embeddings.").
				EchoMode(huh.EchoModePassword).
				Value(&agentKey),
			huh.NewInput().
				Title("Speech recognition API key").
				EchoMode(huh.EchoModePassword).
				Value(&sttKey),
			huh.NewInput().
				Title("Speech synthesis API key").
				Description("Leave empty to reuse the LLM API key.").
				EchoMode(huh.EchoModePassword).
				Value(&ttsKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Telephony account SID").
				Value(&accountSID),
			huh.NewInput().
				Title("Telephony auth token").
				EchoMode(huh.EchoModePassword).
				Value(&authToken),
			huh.NewInput().
				Title("Caller number").
				Description("E.164 number outbound calls are placed from (e.g. +15550100).").
				Value(&callerNum),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	if ttsKey == "" {
		ttsKey = agentKey
	}

	// Secrets go to the OS keyring when available, otherwise the user is
	// told to provide them via environment.
	if config.KeyringAvailable() {
		storeSecret(config.KeyAgentAPIKey, agentKey)
		storeSecret(config.KeySTTAPIKey, sttKey)
		storeSecret(config.KeyTTSAPIKey, ttsKey)
		storeSecret(config.KeyTelephonyAuthToken, authToken)
		fmt.Println("Credentials stored in the OS keyring.")
	} else {
		fmt.Println("OS keyring unavailable. Set WARDLINE_AGENT_API_KEY, WARDLINE_STT_API_KEY,")
		fmt.Println("WARDLINE_TTS_API_KEY and TWILIO_AUTH_TOKEN in the environment or a .env file.")
	}

	// The account SID is not a secret by itself and lives in the config.
	cfg.Telephony.AccountSID = accountSID

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if err := writeConfig(cfg, configPath); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s.\n", configPath)

	if callerNum != "" {
		if err := registerCallerNumber(cfg, callerNum); err != nil {
			return err
		}
		fmt.Printf("Caller number %s registered.\n", callerNum)
	}

	fmt.Println()
	fmt.Println("Next: add a schedule and start the daemon.")
	fmt.Println("  wardline schedule add --phone +15550100 --name \"Margaret H.\" --time 09:30")
	fmt.Println("  wardline serve")
	return nil
}

func storeSecret(key, value string) {
	if value == "" {
		return
	}
	if err := config.StoreKeyring(key, value); err != nil {
		fmt.Printf("Warning: could not store %s in keyring: %v\n", key, err)
	}
}

// writeConfig marshals the config to YAML with owner-only permissions.
func writeConfig(cfg *config.Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// registerCallerNumber records the outbound caller number in the database
// so the dispatcher can place calls from it.
func registerCallerNumber(cfg *config.Config, number string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	if _, err := st.AddPhoneNumber("default", number); err != nil {
		return fmt.Errorf("registering caller number: %w", err)
	}
	return nil
}
