package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"
)

// RequestSample is one served HTTP request.
type RequestSample struct {
	Method  string
	Route   string
	Status  int
	Latency time.Duration
}

// MetricsClient ships per-route request metrics to CloudWatch. A nil or
// disabled client records nothing.
type MetricsClient struct {
	client    *cloudwatch.Client
	namespace string
	service   string
	enabled   bool
}

func NewMetricsClient(cfg sdkaws.Config, namespace, service string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = "Donations"
	}
	return &MetricsClient{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: namespace,
		service:   service,
		enabled:   enabled,
	}
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}

// RecordRequest sends the count, latency and (for 4xx/5xx) error datums for
// one request in a single PutMetricData call.
func (m *MetricsClient) RecordRequest(ctx context.Context, s RequestSample) error {
	if !m.IsEnabled() {
		return nil
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(m.namespace),
		MetricData: m.requestData(s, time.Now()),
	})
	if err != nil {
		return fmt.Errorf("put request metrics: %w", err)
	}
	return nil
}

func (m *MetricsClient) requestData(s RequestSample, at time.Time) []types.MetricDatum {
	dims := []types.Dimension{
		{Name: sdkaws.String("Service"), Value: sdkaws.String(m.service)},
		{Name: sdkaws.String("Route"), Value: sdkaws.String(s.Method + " " + s.Route)},
		{Name: sdkaws.String("StatusClass"), Value: sdkaws.String(strconv.Itoa(s.Status/100) + "xx")},
	}
	datum := func(name string, value float64, unit types.StandardUnit) types.MetricDatum {
		return types.MetricDatum{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(value),
			Unit:       unit,
			Timestamp:  sdkaws.Time(at),
			Dimensions: dims,
		}
	}

	data := []types.MetricDatum{
		datum(MetricHTTPRequests, 1, types.StandardUnitCount),
		datum(MetricHTTPLatency, float64(s.Latency.Milliseconds()), types.StandardUnitMilliseconds),
	}
	if s.Status >= 400 {
		data = append(data, datum(MetricHTTPErrors, 1, types.StandardUnitCount))
	}
	return data
}
