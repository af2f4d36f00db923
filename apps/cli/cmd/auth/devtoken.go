package auth

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/permitdesk/platform/go/auth/devtoken"
)

func devTokenCommand() *cobra.Command {
	var params devtoken.Params
	var secret string

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Generate a Firebase-compatible JWT for dev/local use",
		Long: "Generate a Firebase-compatible JWT. Without --secret the token is unsigned and only " +
			"accepted with AUTH_PROVIDER=dev; with --secret it is HS256-signed for AUTH_PROVIDER=hmac.",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()

			var (
				token string
				err   error
			)
			if secret != "" {
				token, err = devtoken.BuildSignedToken(params, []byte(secret), now)
			} else {
				token, err = devtoken.BuildUnsignedFirebaseToken(params, now)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	// Required claims
	cmd.Flags().StringVar(&params.ProjectID, "project-id", "", "Firebase project ID (iss/aud)")
	cmd.Flags().StringVar(&params.UserID, "user-id", "", "user_id/sub/uid claim; matched against assignedManagerId")
	cmd.Flags().StringVar(&params.Email, "email", "", "email claim")

	// Optional claims
	cmd.Flags().StringVar(&params.Name, "name", "", "display name recorded in audit entries")
	cmd.Flags().StringVar(&params.Role, "role", "manager", "role claim recorded in audit entries")
	cmd.Flags().BoolVar(&params.EmailVerified, "email-verified", true, "email_verified claim")
	cmd.Flags().BoolVar(&params.IsAdmin, "admin", false, "set isAdmin=true")
	cmd.Flags().StringVar(&params.FirebaseSignInProvider, "sign-in-provider", "password", "firebase.sign_in_provider claim")
	cmd.Flags().DurationVar(&params.ExpiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")
	cmd.Flags().StringVar(&params.Audience, "audience", "", "override aud; defaults to project-id")
	cmd.Flags().StringVar(&params.Issuer, "issuer", "", "override iss; defaults to securetoken URL")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret (AUTH_HMAC_SECRET); omit for an unsigned token")

	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
