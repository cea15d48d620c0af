package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"github.com/fdbmem/fdbmem/kv/shell"
	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive client on a fresh database",
		Run:   runShellCommandFunc,
	}
}

func runShellCommandFunc(cmd *cobra.Command, args []string) {
	d := openDB()
	session := shell.NewSession(d, os.Stdout)
	defer session.Close()

	l, err := readline.NewEx(&readline.Config{
		Prompt:            "fdbmem> ",
		HistoryFile:       filepath.Join(os.TempDir(), "fdbmem_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		fatalf("start shell: %v", err)
	}
	defer l.Close()

	for {
		if session.InTransaction() {
			l.SetPrompt("fdbmem*> ")
		} else {
			l.SetPrompt("fdbmem> ")
		}
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return
			}
			continue
		}
		err = session.Execute(line)
		if err == shell.ErrExit {
			return
		}
		if err != nil {
			printError(err)
		}
	}
}

func printError(err error) {
	if code := txnerr.CodeOf(err); code != 0 {
		fmt.Printf("ERROR: %s (%d)\n", errors.Cause(err).(txnerr.Error).Description(), code)
		return
	}
	fmt.Printf("ERROR: %v\n", err)
}
