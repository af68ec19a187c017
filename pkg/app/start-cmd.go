package app

import "gopkg.in/alecthomas/kingpin.v2"

func DefineStartCommandFlags(kpApp *kingpin.Application, cmd *kingpin.CmdClause) {
	DefineAppFlags(cmd)
	DefineKubeClientFlags(cmd)
	DefineLoggingFlags(cmd)
	DefineDebugFlags(kpApp, cmd)
}

// DefineRunCommandFlags is a subset of start flags for a single synchronous run.
func DefineRunCommandFlags(cmd *kingpin.CmdClause) {
	DefineWorkflowFlag(cmd)
	cmd.Flag("tmp-dir", "A path to store run working directories and lock files. Can be set with $NEWS_OPERATOR_TMP_DIR.").
		Envar("NEWS_OPERATOR_TMP_DIR").
		Default(TempDir).
		StringVar(&TempDir)
	DefineKubeClientFlags(cmd)
	DefineLoggingFlags(cmd)
}
