package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/HatiCode/junctioncast/pkg/client"
	"github.com/HatiCode/junctioncast/pkg/features"
	"github.com/HatiCode/junctioncast/pkg/modelcache"
	"github.com/HatiCode/junctioncast/pkg/models"
	"github.com/HatiCode/junctioncast/pkg/rpc"
	"github.com/HatiCode/junctioncast/pkg/storage"
)

// trafficCSV renders a week of hourly counts for three junctions.
func trafficCSV() string {
	var b strings.Builder
	b.WriteString("DateTime,Junction,Vehicles,ID\n")
	start := time.Date(2017, 6, 5, 0, 0, 0, 0, time.UTC)
	for j := 1; j <= 3; j++ {
		for h := 0; h < 7*24; h++ {
			at := start.Add(time.Duration(h) * time.Hour)
			fmt.Fprintf(&b, "%s,%d,%d,%s%d\n", at.Format("2006-01-02 15:04:05"), j, 15*j+2*at.Hour(), at.Format("2006010215"), j)
		}
	}
	return b.String()
}

func startRedis(ctx context.Context, t *testing.T) testcontainers.Container {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })
	return container
}

// TestRedisModelCache trains once against a real redis and restores the
// artifact from it.
func TestRedisModelCache(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	redisContainer := startRedis(ctx, t)

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get redis host: %v", err)
	}
	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get redis port: %v", err)
	}

	store, err := storage.NewRedisStore(fmt.Sprintf("%s:%s", host, port.Port()), "", 0, "junctioncast:test:model", time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	builder := features.NewBuilder()
	frame := models.FeatureFrame{Columns: builder.Columns()}
	start := time.Date(2017, 6, 5, 0, 0, 0, 0, time.UTC)
	for j := 1; j <= 2; j++ {
		for h := 0; h < 7*24; h++ {
			at := start.Add(time.Duration(h) * time.Hour)
			frame.Rows = append(frame.Rows, builder.Row(j, at))
			frame.Target = append(frame.Target, float64(20*j+at.Hour()))
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trained := models.NewRandomForest(models.ForestConfig{Trees: 10})
	out, err := modelcache.New(store, logger).LoadOrTrain(ctx, trained, frame, "week-1")
	if err != nil {
		t.Fatalf("LoadOrTrain() error = %v", err)
	}
	if out.Source != modelcache.SourceTrained {
		t.Fatalf("Source = %v, want %v", out.Source, modelcache.SourceTrained)
	}

	restored := models.NewRandomForest(models.ForestConfig{Trees: 10})
	out, err = modelcache.New(store, logger).LoadOrTrain(ctx, restored, frame, "week-1")
	if err != nil {
		t.Fatalf("LoadOrTrain() error = %v", err)
	}
	if out.Source != modelcache.SourceCache {
		t.Fatalf("Source = %v, want %v", out.Source, modelcache.SourceCache)
	}

	for _, row := range frame.Rows[:48] {
		a, _ := trained.Predict(ctx, row)
		b, _ := restored.Predict(ctx, row)
		if a != b {
			t.Fatalf("Predict(%v): trained %v, restored %v", row, a, b)
		}
	}

	if err := store.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, err := store.Get(ctx); err != nil || found {
		t.Errorf("Get() after Delete = found %v, err %v; want not found", found, err)
	}
	t.Log("✓ Model round-tripped through redis")
}

// TestDashboardE2E builds the dashboard image, points it at a redis model
// cache and queries it over HTTP and gRPC.
func TestDashboardE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// 1. Start redis for the shared model cache
	redisContainer := startRedis(ctx, t)
	redisIP, err := redisContainer.ContainerIP(ctx)
	if err != nil {
		t.Fatalf("Failed to get redis container IP: %v", err)
	}

	// 2. Build and start the dashboard container
	t.Log("Building and starting dashboard container...")
	dashboardReq := testcontainers.ContainerRequest{
		FromDockerfile: testcontainers.FromDockerfile{
			Context:    "../../",
			Dockerfile: "Dockerfile.dashboard",
		},
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Files: []testcontainers.ContainerFile{
			{
				ContainerFilePath: "/app/traffic.csv",
				FileMode:          0644,
				Reader:            strings.NewReader(trafficCSV()),
			},
		},
		Cmd: []string{
			"-data=/app/traffic.csv",
			"-trees=20",
			"-storage=redis",
			"-redis-addr=" + redisIP + ":6379",
			"-log-level=debug",
		},
		WaitingFor: wait.ForHTTP("/healthz").WithPort("8080/tcp").WithStartupTimeout(120 * time.Second),
	}

	dashboardContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: dashboardReq,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start dashboard container: %v", err)
	}
	defer dashboardContainer.Terminate(ctx)

	host, err := dashboardContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get dashboard host: %v", err)
	}
	httpPort, err := dashboardContainer.MappedPort(ctx, "8080")
	if err != nil {
		t.Fatalf("Failed to get dashboard HTTP port: %v", err)
	}
	grpcPort, err := dashboardContainer.MappedPort(ctx, "50051")
	if err != nil {
		t.Fatalf("Failed to get dashboard gRPC port: %v", err)
	}

	baseURL := fmt.Sprintf("http://%s:%s", host, httpPort.Port())
	t.Logf("Dashboard running at: %s", baseURL)

	dumpLogs := func() {
		logs, logErr := dashboardContainer.Logs(ctx)
		if logErr == nil {
			defer logs.Close()
			logBytes, _ := io.ReadAll(logs)
			t.Logf("Dashboard container logs:\n%s", string(logBytes))
		}
	}

	// 3. HTTP API
	httpClient := client.NewDashboardClient(baseURL)

	t.Run("Junctions", func(t *testing.T) {
		got, err := httpClient.Junctions(ctx)
		if err != nil {
			dumpLogs()
			t.Fatalf("Junctions() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("Junctions() = %v, want 3 junctions", got)
		}
	})

	t.Run("Predict", func(t *testing.T) {
		got, err := httpClient.Predict(ctx, 2, "2017-06-07", "10:00")
		if err != nil {
			dumpLogs()
			t.Fatalf("Predict() error = %v", err)
		}
		// Junction 2 at 10:00 always carried 50 vehicles.
		if got.Vehicles != 50 {
			t.Errorf("Vehicles = %d, want 50", got.Vehicles)
		}
		t.Logf("✓ %d vehicles, %s", got.Vehicles, got.Banner)
	})

	t.Run("Model", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/model")
		if err != nil {
			t.Fatalf("GET /api/model: %v", err)
		}
		defer resp.Body.Close()

		var info map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			t.Fatalf("Failed to decode model info: %v", err)
		}
		if info["name"] != "random_forest" {
			t.Errorf("name = %v, want random_forest", info["name"])
		}
		if info["source"] != "trained" {
			t.Errorf("source = %v, want trained", info["source"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d with redis reachable", resp.StatusCode, http.StatusOK)
		}
	})

	// 4. gRPC API
	conn, err := grpc.NewClient(
		fmt.Sprintf("%s:%s", host, grpcPort.Port()),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to connect to dashboard gRPC: %v", err)
	}
	defer conn.Close()

	t.Run("GRPCPredict", func(t *testing.T) {
		got, err := rpc.NewClient(conn).Predict(ctx, 1, "2017-06-08", "23:00")
		if err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
		if got.Vehicles != 61 {
			t.Errorf("Vehicles = %d, want 61", got.Vehicles)
		}
		if got.Banner != "Heavy Traffic" {
			t.Errorf("Banner = %q, want Heavy Traffic", got.Banner)
		}
	})

	t.Log("✓ All integration tests passed!")
}
