package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/homework/core/profile"
	"github.com/trezcool/homework/core/session"
)

// settle mounts the bootstrapper (once) and waits for the first settled state.
func (cli *commandLine) settle(ctx context.Context) (session.State, error) {
	cli.boot.Mount(context.Background())
	st, err := cli.boot.WaitSettled(ctx)
	if err != nil {
		return st, errors.Wrap(err, "waiting for the session")
	}
	return st, nil
}

// waitFor waits for the first published state satisfying ok.
func (cli *commandLine) waitFor(ctx context.Context, ok func(session.State) bool) (session.State, error) {
	found := make(chan session.State, 1)
	cancel := cli.boot.Watch(func(st session.State) {
		if ok(st) {
			select {
			case found <- st:
			default:
			}
		}
	})
	defer cancel()

	select {
	case st := <-found:
		return st, nil
	case <-ctx.Done():
		return cli.boot.State(), errors.Wrap(ctx.Err(), "waiting for the session")
	}
}

func ready(st session.State) bool {
	return st.Status() == session.StatusReady && !st.Loading
}

func (cli *commandLine) status() error {
	ctx, cancel := context.WithTimeout(context.Background(), cli.timeout)
	defer cancel()

	st, err := cli.settle(ctx)
	if err != nil {
		return err
	}
	cli.printState(st)
	return nil
}

func (cli *commandLine) login(email, pwd string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cli.timeout)
	defer cancel()

	if _, err := cli.settle(ctx); err != nil {
		return err
	}
	resp, err := cli.boot.SignIn(ctx, email, pwd)
	if err != nil {
		return err
	}
	st, err := cli.waitFor(ctx, func(st session.State) bool {
		return ready(st) && st.User.ID == resp.User.ID
	})
	if err != nil {
		return err
	}
	cli.printState(st)
	return nil
}

func (cli *commandLine) signup(email, pwd, fullName, role string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cli.timeout)
	defer cancel()

	if _, err := cli.settle(ctx); err != nil {
		return err
	}
	resp, err := cli.boot.SignUp(ctx, email, pwd, fullName, role)
	if err != nil {
		return err
	}
	if resp.Session == nil {
		fmt.Fprintf(cli.out, "Registered %s: check your inbox to confirm the email address, then log in.\n", resp.User.Email)
		return nil
	}
	st, err := cli.waitFor(ctx, func(st session.State) bool {
		return ready(st) && st.User.ID == resp.User.ID
	})
	if err != nil {
		return err
	}
	cli.printState(st)
	return nil
}

func (cli *commandLine) logout() error {
	ctx, cancel := context.WithTimeout(context.Background(), cli.timeout)
	defer cancel()

	st, err := cli.settle(ctx)
	if err != nil {
		return err
	}
	if st.User == nil {
		fmt.Fprintln(cli.out, "Not signed in.")
		return nil
	}
	if err = cli.boot.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Signed out %s.\n", st.User.Email)
	return nil
}

func (cli *commandLine) printState(st session.State) {
	fmt.Fprintf(cli.out, "status: %s\n", st.Status())
	if st.User != nil {
		fmt.Fprintf(cli.out, "email:  %s\n", st.User.Email)
	}
	if st.Profile == nil {
		return
	}
	p := st.Profile
	fmt.Fprintf(cli.out, "name:   %s\n", p.FullName)
	fmt.Fprintf(cli.out, "role:   %s\n", profile.RoleName(p.Role))

	items := profile.MenuFor(p.Role)
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	fmt.Fprintf(cli.out, "menu:   %s\n", strings.Join(names, " | "))
}
