package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"presence/internal/attendance"
	"presence/internal/auth"
	"presence/internal/config"
)

var errHelp = errors.New("help provided")

type unenroller interface {
	Unenroll(ctx context.Context, trackID, studentID string) error
}

type commandLine struct {
	cfg       config.App
	out       io.Writer
	migrate   func(ctx context.Context) error
	directory unenroller
	authority *attendance.Authority
	now       func() time.Time
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate                                     - apply the database schema")
	fmt.Fprintln(cli.out, "  token -subject ID -roles teacher[,admin]    - issue an access/refresh token pair")
	fmt.Fprintln(cli.out, "  unenroll -track TRACK -student STUDENT      - remove a student from a track")
	fmt.Fprintln(cli.out, "  purge                                       - delete expired session tokens now")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenCmd.SetOutput(cli.out)
	tokenSubject := tokenCmd.String("subject", "", "The user id carried in the sub claim.")
	tokenRoles := tokenCmd.String("roles", "", "Comma separated roles: admin, teacher, dept_head, track_head, student.")

	unenrollCmd := flag.NewFlagSet("unenroll", flag.ContinueOnError)
	unenrollCmd.SetOutput(cli.out)
	unenrollTrack := unenrollCmd.String("track", "", "The track id.")
	unenrollStudent := unenrollCmd.String("student", "", "The student id.")

	switch args[1] {
	case "migrate":
		if err := cli.migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "schema applied")
		return nil
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenSubject == "" || *tokenRoles == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.issueToken(*tokenSubject, *tokenRoles)
	case "unenroll":
		if err := unenrollCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *unenrollTrack == "" || *unenrollStudent == "" {
			unenrollCmd.Usage()
			return errHelp
		}
		if err := cli.directory.Unenroll(ctx, *unenrollTrack, *unenrollStudent); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%s removed from %s\n", *unenrollStudent, *unenrollTrack)
		return nil
	case "purge":
		n, err := cli.authority.Purge(ctx, cli.now().Add(-cli.cfg.TokenRetention))
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%d expired tokens deleted\n", n)
		return nil
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) issueToken(subject, rawRoles string) error {
	var roles auth.Roles
	for _, r := range strings.Split(rawRoles, ",") {
		r = strings.TrimSpace(r)
		if !auth.Known(r) {
			return fmt.Errorf("unknown role %q", r)
		}
		roles = append(roles, r)
	}
	pair, err := auth.Issue(subject, roles, cli.cfg.JWTIssuer, cli.cfg.JWTSigningKey, cli.cfg.AccessTTL, cli.cfg.RefreshTTL)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}
