package prometheus_test

import (
	"context"
	"io/ioutil"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"

	appprometheus "github.com/cneura-ai/app-operator/metrics/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	controllerID := "test"

	tests := []struct {
		name       string
		addMetrics func(*appprometheus.Recorder)
		expMetrics []string
		expCode    int
	}{
		{
			name: "Incrementing queued events should measure the queued events counter with the requeue label",
			addMetrics: func(r *appprometheus.Recorder) {
				r.IncResourceEventQueued(context.TODO(), controllerID, false)
				r.IncResourceEventQueued(context.TODO(), controllerID, false)
				r.IncResourceEventQueued(context.TODO(), controllerID, false)
				r.IncResourceEventQueued(context.TODO(), controllerID, false)
				r.IncResourceEventQueued(context.TODO(), controllerID, true)
				r.IncResourceEventQueued(context.TODO(), controllerID, true)
				r.IncResourceEventQueued(context.TODO(), controllerID, true)
			},
			expMetrics: []string{
				`appoperator_controller_queued_events_total{controller="test",requeue="false"} 4`,
				`appoperator_controller_queued_events_total{controller="test",requeue="true"} 3`,
			},
			expCode: 200,
		},
		{
			name: "Measuring the duration of processed events should return the correct buckets",
			addMetrics: func(r *appprometheus.Recorder) {
				now := time.Now()
				r.ObserveResourceProcessingDuration(context.TODO(), controllerID, true, now.Add(-2*time.Millisecond))
				r.ObserveResourceProcessingDuration(context.TODO(), controllerID, true, now.Add(-11*time.Millisecond))
				r.ObserveResourceProcessingDuration(context.TODO(), controllerID, true, now.Add(-280*time.Millisecond))
				r.ObserveResourceProcessingDuration(context.TODO(), controllerID, false, now.Add(-7*time.Second))
			},
			expMetrics: []string{
				`appoperator_controller_processed_event_duration_seconds_bucket{controller="test",success="true",le="0.005"} 1`,
				`appoperator_controller_processed_event_duration_seconds_bucket{controller="test",success="true",le="0.025"} 2`,
				`appoperator_controller_processed_event_duration_seconds_bucket{controller="test",success="true",le="0.5"} 3`,
				`appoperator_controller_processed_event_duration_seconds_count{controller="test",success="true"} 3`,
				`appoperator_controller_processed_event_duration_seconds_bucket{controller="test",success="false",le="5"} 0`,
				`appoperator_controller_processed_event_duration_seconds_bucket{controller="test",success="false",le="10"} 1`,
				`appoperator_controller_processed_event_duration_seconds_count{controller="test",success="false"} 1`,
			},
			expCode: 200,
		},
		{
			name: "Measuring the duration of queued events should return the correct buckets",
			addMetrics: func(r *appprometheus.Recorder) {
				now := time.Now()
				r.ObserveResourceInQueueDuration(context.TODO(), controllerID, now.Add(-2*time.Millisecond))
				r.ObserveResourceInQueueDuration(context.TODO(), controllerID, now.Add(-300*time.Millisecond))
			},
			expMetrics: []string{
				`appoperator_controller_event_in_queue_duration_seconds_bucket{controller="test",le="0.005"} 1`,
				`appoperator_controller_event_in_queue_duration_seconds_bucket{controller="test",le="0.5"} 2`,
				`appoperator_controller_event_in_queue_duration_seconds_count{controller="test"} 2`,
			},
			expCode: 200,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert := assert.New(t)

			reg := prometheus.NewRegistry()
			rec := appprometheus.New(appprometheus.Config{Registerer: reg})
			test.addMetrics(rec)

			// Serve the metrics and check the exposition contents.
			server := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			defer server.Close()

			resp, err := server.Client().Get(server.URL)
			if assert.NoError(err) {
				defer resp.Body.Close()
				body, err := ioutil.ReadAll(resp.Body)
				if assert.NoError(err) {
					assert.Equal(test.expCode, resp.StatusCode)
					for _, expMetric := range test.expMetrics {
						assert.Contains(string(body), expMetric, "metric not present on the result of metrics service")
					}
				}
			}
		})
	}
}
