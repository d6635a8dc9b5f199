// Package influx writes appliance values to an InfluxDB v2 bucket.
package influx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/anicoll/homeconnect-integration/internal/pkg/model"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const measurement = "appliance"

var ErrUnhealthy = errors.New("influxdb server not healthy")

type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// Connect builds a client for url and verifies the server answers a ping.
func Connect(ctx context.Context, url, token, org, bucket string) (*Sink, error) {
	client := influxdb2.NewClientWithOptions(url, token, influxdb2.DefaultOptions())
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}, nil
}

func (s *Sink) Write(ctx context.Context, data model.Properties) error {
	points := make([]*write.Point, 0, len(data))
	for _, d := range data {
		points = append(points, toPoint(d))
	}
	if len(points) == 0 {
		return nil
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RegisterAppliance is a no-op, appliance metadata lives in the tags.
func (s *Sink) RegisterAppliance(context.Context, model.Appliance) error {
	return nil
}

func (s *Sink) Close() {
	s.client.Close()
}

func toPoint(d model.Property) *write.Point {
	tags := map[string]string{
		"identifier": d.Identifier,
		"slug":       d.Slug,
	}
	if d.Unit != "" {
		tags["unit"] = d.Unit
	}
	fields := map[string]any{}
	if f, err := strconv.ParseFloat(d.Value, 64); d.Numeric && err == nil {
		fields["value"] = f
	} else {
		fields["state"] = d.Value
	}
	return write.NewPoint(measurement, tags, fields, d.TimeStamp)
}
