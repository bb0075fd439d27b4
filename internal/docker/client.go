package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// LogOptions controls an opened container log stream.
type LogOptions struct {
	Follow     bool
	Tail       int
	Timestamps bool
	Stdout     bool
	Stderr     bool
}

// Runtime is the container-daemon surface the monitor consumes. Each call can
// fail independently per container; callers are expected to tolerate that.
type Runtime interface {
	ListRunning(ctx context.Context) ([]types.Container, error)
	Inspect(ctx context.Context, id string) (types.ContainerJSON, error)
	Stats(ctx context.Context, id string) (types.StatsJSON, error)
	OpenLogStream(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error)
}

// Client implements Runtime over the Docker SDK.
type Client struct {
	inner *client.Client
}

// New creates a Docker client using environment defaults, optionally
// overriding the daemon host.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// ListRunning returns all running containers.
func (c *Client) ListRunning(ctx context.Context) ([]types.Container, error) {
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{All: false})
	if err != nil {
		return nil, mapErr(err)
	}
	return containers, nil
}

// Inspect fetches the full inspection record for one container.
func (c *Client) Inspect(ctx context.Context, id string) (types.ContainerJSON, error) {
	inspect, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		return types.ContainerJSON{}, mapErr(err)
	}
	return inspect, nil
}

// Stats fetches a single point-in-time stats sample. The non-streaming
// endpoint has the daemon take two sampling cycles, so precpu_stats is
// populated and a per-interval rate can be derived from one response. The
// one-shot variant skips that second cycle and leaves precpu_stats empty,
// which would collapse the CPU rate into a since-boot average.
func (c *Client) Stats(ctx context.Context, id string) (types.StatsJSON, error) {
	resp, err := c.inner.ContainerStats(ctx, id, false)
	if err != nil {
		return types.StatsJSON{}, mapErr(err)
	}
	defer resp.Body.Close()

	var sample types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return types.StatsJSON{}, fmt.Errorf("%w: %s", ErrMalformedSample, err)
	}
	return sample, nil
}

// OpenLogStream opens a byte stream of multiplexed stdout/stderr log frames.
// The stream honors ctx cancellation; the caller must close it.
func (c *Client) OpenLogStream(ctx context.Context, id string, opts LogOptions) (io.ReadCloser, error) {
	tail := "all"
	if opts.Tail > 0 {
		tail = strconv.Itoa(opts.Tail)
	}
	rc, err := c.inner.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: opts.Stdout,
		ShowStderr: opts.Stderr,
		Follow:     opts.Follow,
		Tail:       tail,
		Timestamps: opts.Timestamps,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return rc, nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

func mapErr(err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	return err
}
