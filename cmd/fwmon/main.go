package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/golang/protobuf/jsonpb"

	"github.com/robotalks/userapp/pkg/report/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/userapp/"
)

func init() {
	if val := os.Getenv("USERAPP_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}

	var m jsonpb.Marshaler
	q.Sub("+/meta", mqtt.Handler(func(topic string, payload []byte) {
		if len(payload) == 0 {
			log.Printf("%s: gone", strings.TrimSuffix(topic, "/meta"))
			return
		}
		log.Printf("%s: %s", topic, string(payload))
	}))
	q.Sub("+/events", mqtt.Handler(func(topic string, payload []byte) {
		s, err := mqtt.DecodeStruct(payload)
		if err != nil {
			log.Printf("%s: bad event: %v", topic, err)
			return
		}
		out, err := m.MarshalToString(s)
		if err != nil {
			log.Printf("%s: %v", topic, err)
			return
		}
		log.Printf("%s: %s", topic, out)
	}))
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	<-(chan struct{})(nil)
}
