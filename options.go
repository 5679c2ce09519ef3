package main

type Options struct {
	RedisServerAddr string
	RedisServerPort uint16
	CANDevice       string
	DemoSensor      bool
}
