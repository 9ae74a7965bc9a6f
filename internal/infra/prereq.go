package infra

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"domctl/internal/apperrors"
	"domctl/internal/compose"
	"domctl/internal/operation"
)

// checkPort fails when the host port is taken by anything other than this
// workspace's own application server.
func checkPort(ctx context.Context, d *Deploy, env *operation.Env) error {
	port := d.Config.Port
	owner, err := d.Runtime.PortOwner(ctx, port)
	if err != nil {
		env.Logger.Debug("Could not determine port owner", "port", port, "error", err)
	}
	if owner == d.container(compose.ServiceServer) {
		env.Logger.Info("Port already served by this deployment", "port", port, "container", owner)
		return nil
	}

	check := d.PortCheck
	if check == nil {
		check = listenProbe
	}
	if err := check(port); err != nil {
		msg := fmt.Sprintf("Port %d is already in use", port)
		if owner != "" {
			msg = fmt.Sprintf("Port %d is already in use by container '%s'", port, owner)
		}
		return apperrors.Prerequisite("port", msg, err)
	}
	return nil
}

// listenProbe binds the port on all interfaces and releases it.
func listenProbe(port int) error {
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return l.Close()
}
