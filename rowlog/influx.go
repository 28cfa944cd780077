package rowlog

import (
	"log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

// InfluxSink mirrors rows to InfluxDB as points of one measurement, one
// field per register. Writes are asynchronous; errors reported by the
// server are logged rather than returned, so a slow or absent database never
// stops the durable log.
type InfluxSink struct {
	client      influxdb2.Client
	writeApi    api.WriteApi
	measurement string
	tags        map[string]string
	names       []string
}

func NewInfluxSink(server, token, org, bucket, measurement string, tags map[string]string) *InfluxSink {
	client := influxdb2.NewClient(server, token)
	writeApi := client.WriteApi(org, bucket)
	errorsCh := writeApi.Errors()
	go func() {
		for err := range errorsCh {
			log.Printf("influx write error: %v", err)
		}
	}()
	return &InfluxSink{
		client:      client,
		writeApi:    writeApi,
		measurement: measurement,
		tags:        tags,
	}
}

func (s *InfluxSink) Header(names, labels []string) error {
	s.names = append([]string(nil), names...)
	return nil
}

func (s *InfluxSink) Write(row Row) error {
	fields := make(map[string]interface{}, len(row.Values))
	for i, v := range row.Values {
		if i < len(s.names) {
			fields[s.names[i]] = v
		}
	}
	s.writeApi.WritePoint(influxdb2.NewPoint(s.measurement, s.tags, fields, row.Time))
	return nil
}

func (s *InfluxSink) Close() error {
	s.writeApi.Flush()
	s.writeApi.Close()
	s.client.Close()
	return nil
}
