package parser

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ingestTime = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

func TestParse_Success(t *testing.T) {
	payload := []byte(`{"pm25": 42.5, "lat": 13.7563, "lon": 100.5018, "tst": 1700000000, "speed": 12.3, "batt": 87, "fw": "2.1.0"}`)

	m, err := Parse("D1", payload, ingestTime)

	require.NoError(t, err)
	assert.Equal(t, "D1", m.DeviceID)
	assert.Equal(t, 42.5, m.PM25)
	assert.Equal(t, 13.7563, m.Latitude)
	assert.Equal(t, 100.5018, m.Longitude)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), m.Timestamp)
	require.NotNil(t, m.Speed)
	assert.Equal(t, 12.3, *m.Speed)

	require.Len(t, m.Extra, 2)
	assert.Equal(t, json.RawMessage(`87`), m.Extra["batt"])
	assert.Equal(t, json.RawMessage(`"2.1.0"`), m.Extra["fw"])
}

func TestParse_NumericStrings(t *testing.T) {
	m, err := Parse("D1", []byte(`{"pm25": "18.0", "latitude": "13.1", "longitude": " 100.2 "}`), ingestTime)

	require.NoError(t, err)
	assert.Equal(t, 18.0, m.PM25)
	assert.Equal(t, 13.1, m.Latitude)
	assert.Equal(t, 100.2, m.Longitude)
	assert.Nil(t, m.Speed)
	assert.Empty(t, m.Extra)
}

func TestParse_TimestampOrder(t *testing.T) {
	// tst 优先于 timestamp
	m, err := Parse("D1", []byte(`{"pm25":1,"lat":0,"lon":0,"tst":1700000000.5,"timestamp":"2020-01-01T00:00:00Z"}`), ingestTime)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 500000000).UTC(), m.Timestamp)

	m, err = Parse("D1", []byte(`{"pm25":1,"lat":0,"lon":0,"timestamp":"2024-05-06T07:08:09+07:00"}`), ingestTime)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 0, 8, 9, 0, time.UTC), m.Timestamp)

	// 无时区按 UTC
	m, err = Parse("D1", []byte(`{"pm25":1,"lat":0,"lon":0,"timestamp":"2024-05-06T07:08:09.123456"}`), ingestTime)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC), m.Timestamp)

	m, err = Parse("D1", []byte(`{"pm25":1,"lat":0,"lon":0}`), ingestTime)
	require.NoError(t, err)
	assert.Equal(t, ingestTime, m.Timestamp)
}

func TestParse_MissingField(t *testing.T) {
	cases := map[string]string{
		"not a number":  `{"pm25": "not-a-number", "lat": 1, "lon": 2}`,
		"missing pm25":  `{"lat": 1, "lon": 2}`,
		"missing lat":   `{"pm25": 1, "lon": 2}`,
		"missing lon":   `{"pm25": 1, "lat": 2}`,
		"bool pm25":     `{"pm25": true, "lat": 1, "lon": 2}`,
		"null lat":      `{"pm25": 1, "lat": null, "lon": 2}`,
		"NaN string":    `{"pm25": "NaN", "lat": 1, "lon": 2}`,
		"negative pm25": `{"pm25": -3, "lat": 1, "lon": 2}`,
		"only pm25 bad": `{"pm25": "not-a-number"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := Parse("D1", []byte(payload), ingestTime)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrMissingField)
		})
	}

	_, err := Parse("", []byte(`{"pm25":1,"lat":1,"lon":1}`), ingestTime)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestParse_MalformedPayload(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"garbage":       `pm25=12`,
		"array":         `[1,2,3]`,
		"truncated":     `{"pm25": 12, "lat":`,
		"bad tst":       `{"pm25":1,"lat":1,"lon":1,"tst":"yesterday"}`,
		"bad timestamp": `{"pm25":1,"lat":1,"lon":1,"timestamp":"06/05/2024"}`,
		"numeric iso":   `{"pm25":1,"lat":1,"lon":1,"timestamp":12345}`,
		"bad speed":     `{"pm25":1,"lat":1,"lon":1,"speed":"fast"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := Parse("D1", []byte(payload), ingestTime)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestParse_NullSpeedIsAbsent(t *testing.T) {
	m, err := Parse("D1", []byte(`{"pm25":1,"lat":1,"lon":1,"speed":null}`), ingestTime)
	require.NoError(t, err)
	assert.Nil(t, m.Speed)
	assert.NotContains(t, m.Extra, "speed")
}
