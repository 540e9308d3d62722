// main package for tts-client, a command line client of the tts-stream-service
// HTTP API.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/server"
	"github.com/book-expert/tts-stream-service/internal/voice"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagServer   = "server"
	flagTimeout  = "timeout"
	flagLogDir   = "log-dir"
	flagText     = "text"
	flagFile     = "file"
	flagVoice    = "voice"
	flagFormat   = "format"
	flagSpeed    = "speed"
	flagOutput   = "output"
	flagDownload = "download-link"
	flagNoNorm   = "no-normalize"
)

const (
	defaultServer  = "http://127.0.0.1:8880"
	defaultTimeout = 10 * time.Minute
	logFileName    = "tts-client.log"
)

// Log messages.
const (
	logFmtSpeaking      = "Requesting speech for %d characters with voice %q"
	logFmtWrote         = "Wrote %d bytes to %s"
	logFmtRequestFailed = "Request failed: %v"
)

var (
	// ErrNoInput indicates neither --text nor --file was given.
	ErrNoInput = errors.New("either --text or --file must be provided")
	// ErrBothInputs indicates both --text and --file were given.
	ErrBothInputs = errors.New("cannot specify both --text and --file")
)

// app carries the state shared by every subcommand.
type app struct {
	serverURL string
	timeout   time.Duration
	logDir    string
	log       *logger.Logger
	client    *apiClient
}

type speakFlags struct {
	text        string
	file        string
	voice       string
	format      string
	speed       float64
	output      string
	download    bool
	noNormalize bool
}

func newRootCmd() *cobra.Command {
	state := &app{serverURL: defaultServer, timeout: defaultTimeout, logDir: os.TempDir(), log: nil, client: nil}

	root := &cobra.Command{
		Use:           "tts-client",
		Short:         "Command line client for the tts-stream-service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			log, err := logger.New(state.logDir, logFileName)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			state.log = log
			state.client = newAPIClient(state.serverURL, state.timeout)

			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if state.log == nil {
				return nil
			}

			return state.log.Close()
		},
	}

	root.PersistentFlags().StringVar(&state.serverURL, flagServer, defaultServer, "Base URL of the tts-stream-service")
	root.PersistentFlags().DurationVar(&state.timeout, flagTimeout, defaultTimeout, "Overall request timeout")
	root.PersistentFlags().StringVar(&state.logDir, flagLogDir, os.TempDir(), "Directory for the client log file")

	root.AddCommand(
		newSpeakCmd(state),
		newVoicesCmd(state),
		newModelsCmd(state),
		newDownloadCmd(state),
		newHealthCmd(state),
	)

	return root
}

func newSpeakCmd(state *app) *cobra.Command {
	var flags speakFlags

	cmd := &cobra.Command{
		Use:   "speak",
		Short: "Synthesize speech and save the streamed audio",
		Long: `Synthesize speech and save the streamed audio.

Voices may be combined with '+' and weighted, e.g. "af_bella(2)+af_sky".

Example:
  tts-client speak --text "Hello there." --voice af_heart -o hello.wav`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSpeak(cmd, state, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.text, flagText, "t", "", "Text to convert to speech")
	cmd.Flags().StringVarP(&flags.file, flagFile, "f", "", "File holding the text to convert")
	cmd.Flags().StringVar(&flags.voice, flagVoice, "", "Voice or voice combination (service default when empty)")
	cmd.Flags().StringVar(&flags.format, flagFormat, "wav", "Audio format: wav or pcm")
	cmd.Flags().Float64Var(&flags.speed, flagSpeed, 1.0, "Speech speed between 0.25 and 4.0")
	cmd.Flags().StringVarP(&flags.output, flagOutput, "o", "", "Output file (defaults to speech.<format>)")
	cmd.Flags().BoolVar(&flags.download, flagDownload, false, "Ask the service to keep a downloadable copy")
	cmd.Flags().BoolVar(&flags.noNormalize, flagNoNorm, false, "Send the text to the model as is")

	return cmd
}

func runSpeak(cmd *cobra.Command, state *app, flags speakFlags) error {
	input, err := speakInput(flags)
	if err != nil {
		return err
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = "speech." + flags.format
	}

	out, err := os.Create(filepath.Clean(outputPath))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	stream := true
	speed := flags.speed
	normalize := !flags.noNormalize

	request := server.SpeechRequest{
		Model:              "kokoro",
		Input:              input,
		Voice:              voiceSpec(flags.voice),
		ResponseFormat:     flags.format,
		DownloadFormat:     "",
		Speed:              &speed,
		Stream:             &stream,
		ReturnDownloadLink: flags.download,
		Normalize:          &normalize,
	}

	state.log.Info(logFmtSpeaking, len(input), flags.voice)

	result, speakErr := state.client.speak(cmd.Context(), request, out)
	closeErr := out.Close()

	if speakErr != nil {
		state.log.Error(logFmtRequestFailed, speakErr)

		return speakErr
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}

	state.log.Info(logFmtWrote, result.Bytes, outputPath)
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", result.Bytes, outputPath)

	if result.DownloadPath != "" {
		if result.DownloadStatus != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Download copy %s: %s\n", result.DownloadStatus, result.DownloadPath)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Download: %s\n", result.DownloadPath)
		}
	}

	return nil
}

func speakInput(flags speakFlags) (string, error) {
	switch {
	case flags.text != "" && flags.file != "":
		return "", ErrBothInputs
	case flags.text != "":
		return flags.text, nil
	case flags.file != "":
		data, err := os.ReadFile(filepath.Clean(flags.file))
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}

		return string(data), nil
	default:
		return "", ErrNoInput
	}
}

// voiceSpec leaves the voice unset when empty so the service default applies.
func voiceSpec(expr string) voice.Spec {
	if expr == "" {
		return voice.Spec{}
	}

	return voice.FromString(expr)
}

func newVoicesCmd(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voice packs the service can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			voices, err := state.client.voices(cmd.Context())
			if err != nil {
				return err
			}

			for _, name := range voices {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}

			return nil
		},
	}
}

func newModelsCmd(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model aliases the service accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := state.client.models(cmd.Context())
			if err != nil {
				return err
			}

			for _, model := range models {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", model.ID, model.OwnedBy)
			}

			return nil
		},
	}
}

func newDownloadCmd(state *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <path-or-name>",
		Short: "Fetch a downloadable copy produced by speak --download-link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = filepath.Base(args[0])
			}

			return downloadTo(cmd, state, args[0], target)
		},
	}

	cmd.Flags().StringVarP(&output, flagOutput, "o", "", "Output file (defaults to the remote file name)")

	return cmd
}

func downloadTo(cmd *cobra.Command, state *app, remote, target string) error {
	out, err := os.Create(filepath.Clean(target))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	written, downloadErr := state.client.download(cmd.Context(), remote, out)
	closeErr := out.Close()

	if downloadErr != nil {
		_ = os.Remove(target)

		return downloadErr
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close output file: %w", closeErr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", written, target)

	return nil
}

func newHealthCmd(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the service has a model loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := state.client.health(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "status=%s model_loaded=%t device=%s voices=%d\n",
				health.Status, health.ModelLoaded, health.Device, health.VoiceCount)

			return nil
		},
	}
}

func execute(args []string, out io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)

	return root.Execute()
}

func main() {
	err := execute(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
