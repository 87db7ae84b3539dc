package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/user"
)

func (cli *commandLine) addUserCommand() *cobra.Command {
	var uname, email, name string
	var isAdmin bool

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update a user. The password is prompted next.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uname == "" || email == "" {
				return cli.usage(cmd, nil)
			}
			pwd, err := cli.promptPassword(cmd)
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), name, uname, email, pwd, isAdmin)
			if err != nil {
				return err
			}
			cli.printf("user %s saved\n", usr.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username.")
	cmd.Flags().StringVar(&email, "email", "", "The user's email.")
	cmd.Flags().StringVar(&name, "name", "", "The user's full name. Defaults to the username.")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Make the user a platform admin.")
	return cmd
}

// addUser updates or creates a user.User, matched by username or email.
func (cli *commandLine) addUser(ctx context.Context, name, uname, email, pwd string, isAdmin bool) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)

	now := time.Now().UTC()
	exists := true
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	if core.IsNotFound(err) {
		usr, err = cli.usrRepo.GetUser(ctx, user.GetFilter{Email: email})
	}
	if err != nil {
		if !core.IsNotFound(err) {
			return user.User{}, err
		}
		exists = false
		usr = user.User{Roles: []string{user.RoleCustomer}, CreatedAt: now}
	}

	usr.Username = uname
	usr.Email = email
	if name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = uname
	}
	if isAdmin {
		usr.Roles = []string{user.RoleAdmin}
		usr.OrganizationID = ""
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return user.User{}, err
	}

	if exists {
		return cli.usrRepo.UpdateUser(ctx, usr)
	}
	return cli.usrRepo.CreateUser(ctx, usr)
}
