package integration

import (
	"context"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/ehr/fhir-emulator/internal/platform/db"
)

const (
	defaultPostgresImage = "postgres:16-alpine"
	postgresReadyTimeout = 30 * time.Second
)

// postgresContainer is a disposable database started through the Docker CLI.
// Docker picks the host port; it is bound to loopback only.
type postgresContainer struct {
	id  string
	url string
}

func startPostgres(ctx context.Context) (*postgresContainer, error) {
	image := os.Getenv("TEST_POSTGRES_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}
	name := "fhir-emulator-it-" + uuid.NewString()[:8]

	out, err := docker(ctx, "run", "-d",
		"--name", name,
		"--label", "fhir-emulator.test=integration",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=emulator",
		"-e", "POSTGRES_PASSWORD=emulator",
		"-e", "POSTGRES_DB=records",
		image,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "run %s", image)
	}
	c := &postgresContainer{id: out}

	hostPort, err := c.hostPort(ctx)
	if err != nil {
		c.remove()
		return nil, err
	}
	c.url = "postgres://emulator:emulator@" + hostPort + "/records?sslmode=disable"

	if err := c.waitReady(ctx, postgresReadyTimeout); err != nil {
		c.remove()
		return nil, err
	}
	return c, nil
}

// hostPort asks Docker where 5432 was published, e.g. "127.0.0.1:49153".
func (c *postgresContainer) hostPort(ctx context.Context) (string, error) {
	out, err := docker(ctx, "port", c.id, "5432/tcp")
	if err != nil {
		return "", errors.Wrap(err, "inspect published port")
	}
	first, _, _ := strings.Cut(out, "\n")
	if _, _, err := net.SplitHostPort(first); err != nil {
		return "", errors.Wrapf(err, "unexpected port mapping %q", first)
	}
	return first, nil
}

// waitReady polls until the server accepts a pooled connection over TCP.
func (c *postgresContainer) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, 2*time.Second)
		pool, err := db.NewPool(attemptCtx, c.url, 1, 0)
		attemptCancel()
		if err == nil {
			pool.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(err, "postgres not ready after %v", timeout)
		case <-ticker.C:
		}
	}
}

func (c *postgresContainer) remove() {
	_, _ = docker(context.Background(), "rm", "-f", "-v", c.id)
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "docker %s: %s", args[0], strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
