package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	DebugUnixSocket     = "/var/run/news-operator/debug.socket"
	DebugHttpServerAddr = ""
	DebugKeepTmpFiles   = "no"
	DebugKubernetesAPI  = false
)

// DefineDebugFlags defines hidden debug-* flags for the start command
// and a debug-options command to show them.
func DefineDebugFlags(kpApp *kingpin.Application, cmd *kingpin.CmdClause) {
	DefineDebugUnixSocketFlag(cmd)

	cmd.Flag("debug-http-addr", "An address for the debug endpoint over http, e.g. 127.0.0.1:9652.").
		Envar("DEBUG_HTTP_SERVER_ADDR").
		Hidden().
		Default(DebugHttpServerAddr).
		StringVar(&DebugHttpServerAddr)

	cmd.Flag("debug-keep-tmp-files", "Set to 'yes' to keep run working directories after a run.").
		Envar("DEBUG_KEEP_TMP_FILES").
		Hidden().
		Default(DebugKeepTmpFiles).
		StringVar(&DebugKeepTmpFiles)

	cmd.Flag("debug-kubernetes-api", "Show client-go messages.").
		Envar("DEBUG_KUBERNETES_API").
		Hidden().
		Default("false").
		BoolVar(&DebugKubernetesAPI)

	kpApp.Command("debug-options", "Show help for debug flags of the start command.").
		Hidden().
		PreAction(func(_ *kingpin.ParseContext) error {
			fmt.Print(DebugFlagsUsage(cmd))
			os.Exit(0)
			return nil
		})
}

// DebugFlagsUsage lists debug-* flags of the command with their env names and defaults.
func DebugFlagsUsage(cmd *kingpin.CmdClause) string {
	b := new(strings.Builder)
	b.WriteString("Debug flags:\n")
	for _, flag := range cmd.Model().Flags {
		if !strings.HasPrefix(flag.Name, "debug-") {
			continue
		}
		fmt.Fprintf(b, "  --%s=%s\n", flag.Name, flag.FormatPlaceHolder())
		fmt.Fprintf(b, "      %s", flag.Help)
		if flag.Envar != "" {
			fmt.Fprintf(b, " ($%s)", flag.Envar)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func DefineDebugUnixSocketFlag(cmd *kingpin.CmdClause) {
	cmd.Flag("debug-unix-socket", "A path to the unix socket of the debug endpoint.").
		Envar("DEBUG_UNIX_SOCKET").
		Hidden().
		Default(DebugUnixSocket).
		StringVar(&DebugUnixSocket)
}

// KeepTmpFiles reports whether run working directories should survive a run.
func KeepTmpFiles() bool {
	switch strings.ToLower(DebugKeepTmpFiles) {
	case "yes", "true":
		return true
	}
	return false
}
