package dashboard

import (
	"encoding/json"
	"iter"
	"math"

	"github.com/shopspring/decimal"

	"airquality-node/internal/history"
	"airquality-node/internal/reading"
)

// Inbound requests from observers.
const (
	requestHistory = "getHistory"
	requestStatus  = "getStatus"
)

// Point is a rounded sample: analog channels to one decimal, gas indices to
// whole numbers.
type Point struct {
	PM1         float64 `json:"pm1"`
	PM25        float64 `json:"pm25"`
	PM4         float64 `json:"pm4"`
	PM10        float64 `json:"pm10"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	VOC         int64   `json:"voc"`
	NOx         int64   `json:"nox"`
	Timestamp   int64   `json:"timestamp"`
}

type CurrentMessage struct {
	Type string `json:"type"`
	Point
	Quality reading.Quality `json:"quality"`
}

type HistoryMessage struct {
	Type    string  `json:"type"`
	History []Point `json:"history"`
}

// Status is the node summary pushed to observers.
type Status struct {
	Uptime            int64  `json:"uptime"`
	FreeHeap          uint64 `json:"freeHeap"`
	HeapSize          uint64 `json:"heapSize"`
	Clients           int    `json:"clients"`
	SensorInitialized bool   `json:"sensorInitialized"`
	AverageCount      int    `json:"averageCount"`
	AverageTarget     int    `json:"averageTarget"`
	Link              string `json:"link"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	LastEntryID       int64  `json:"lastEntryId"`
	Maintenance       bool   `json:"maintenance"`
}

type StatusMessage struct {
	Type string `json:"type"`
	Status
}

func pointOf(e history.Entry) Point {
	s := e.Sample
	return Point{
		PM1:         round1(s.PM1),
		PM25:        round1(s.PM25),
		PM4:         round1(s.PM4),
		PM10:        round1(s.PM10),
		Temperature: round1(s.Temperature),
		Humidity:    round1(s.Humidity),
		VOC:         round0(s.VOC),
		NOx:         round0(s.NOx),
		Timestamp:   e.At.Milliseconds(),
	}
}

// decimal.NewFromFloat panics on non-finite input.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func round1(v float64) float64 {
	v = finite(v)
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}

func round0(v float64) int64 {
	v = finite(v)
	return decimal.NewFromFloat(v).Round(0).IntPart()
}

func EncodeCurrent(e history.Entry) ([]byte, error) {
	return json.Marshal(CurrentMessage{
		Type:    "current",
		Point:   pointOf(e),
		Quality: reading.QualityOf(e.Sample.PM25),
	})
}

func EncodeHistory(entries iter.Seq[history.Entry]) ([]byte, error) {
	msg := HistoryMessage{Type: "history", History: []Point{}}
	for e := range entries {
		msg.History = append(msg.History, pointOf(e))
	}
	return json.Marshal(msg)
}

func EncodeStatus(s Status) ([]byte, error) {
	return json.Marshal(StatusMessage{Type: "status", Status: s})
}
