package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	nowFunc          = time.Now          // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB
	usrRepo    user.Repository
	billingSvc billing.Service
	out        io.Writer
}

// run executes the command line; args include the program name.
func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCommand()
	root.SetArgs(args[1:])
	return root.ExecuteContext(ctx)
}

func (cli *commandLine) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Roomly administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          cli.usage,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.migrateCommand(),
		cli.addUserCommand(),
		cli.resetPasswordCommand(),
		cli.billingCommand(),
	)
	return root
}

// usage prints the command's help when it cannot run as called.
func (cli *commandLine) usage(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cli.printf("unknown command %q\n\n", args[0])
	}
	_ = cmd.Help()
	return errHelp
}

func (cli *commandLine) printf(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, a...)
}

// promptPassword reads a password without echoing it.
func (cli *commandLine) promptPassword(cmd *cobra.Command) (string, error) {
	cli.printf("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	cli.printf("\n")
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		_ = cmd.Help()
		return "", errHelp
	}
	return string(pwd), nil
}
