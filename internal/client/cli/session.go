package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iudanet/learnsync/internal/client/auth"
)

func (a *App) registerCommand() *cobra.Command {
	var in auth.RegisterInput

	cmd := &cobra.Command{
		Use:     "register [username]",
		Short:   "Register a new account",
		GroupID: "session",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := a.usernameArg(args)
			if err != nil {
				return err
			}
			password, err := a.readPassword("Password: ")
			if err != nil {
				return err
			}

			in.Username = username
			in.Password = password
			userID, err := a.sessions.Register(cmd.Context(), in)
			if err != nil {
				return err
			}

			a.io.Printf("Registered %s (user id %s)\n", username, userID)
			a.io.Printf("Run 'learnsync login %s' to start a session\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Role, "role", "", "role: student, teacher or admin (default student)")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")

	return cmd
}

func (a *App) loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "login [username]",
		Short:   "Log in and store the session locally",
		GroupID: "session",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := a.usernameArg(args)
			if err != nil {
				return err
			}
			password, err := a.readPassword("Password: ")
			if err != nil {
				return err
			}

			session, err := a.sessions.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			a.io.Printf("Logged in as %s (%s)\n", session.Username, session.Role)
			return nil
		},
	}
}

func (a *App) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		Short:   "Revoke the session and remove it locally",
		GroupID: "session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sessions.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			a.io.Println("Logged out")
			return nil
		},
	}
}
