package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/w1xm/drive_logger/datalogger"
	"github.com/w1xm/drive_logger/drive"
	"github.com/w1xm/drive_logger/drive/simulator"
	"github.com/w1xm/drive_logger/monitor"
	"github.com/w1xm/drive_logger/rowlog"
	"github.com/w1xm/drive_logger/sequencer"
	"github.com/w1xm/drive_logger/summit"
)

type Options struct {
	IP       string `long:"ip" default:"192.168.2.22" description:"IP address of the drive"`
	Port     int    `long:"port" default:"502" description:"Modbus TCP port of the drive"`
	SlaveId  byte   `long:"slave-id" default:"1" description:"Modbus unit identifier"`
	Serial   string `long:"serial" description:"serial port for Modbus RTU instead of TCP"`
	Baud     int    `long:"baud" default:"115200" description:"serial baud rate"`
	URL      string `long:"url" description:"modbus_bridge URL instead of a direct connection"`
	Password string `long:"password" env:"BRIDGE_PASSWORD" description:"modbus_bridge password"`
	Debug    bool   `long:"debug" description:"log every Modbus frame"`
	Simulate bool   `long:"simulate" description:"use a simulated drive"`

	Dictionary string   `long:"dictionary" description:"YAML register dictionary (default: built-in Summit map)"`
	Registers  []string `long:"register" description:"register to log; repeat for each column (default: standard set)"`

	RefreshTime       float64 `long:"refresh-time" default:"100" description:"sampling and logging period in milliseconds"`
	Movement          bool    `long:"movement" description:"oscillate the motor between two positions while logging (off by default: the motor never moves unless this is given)"`
	Position1         int     `long:"position-1" default:"0" description:"first position in counts"`
	Position2         int     `long:"position-2" default:"65535" description:"second position in counts"`
	PositionTolerance int     `long:"position-tolerance" default:"200" description:"arrival tolerance in counts"`

	Output string `long:"output" default:"./outputs/data_log.csv" description:"CSV log file"`

	InfluxServer string `long:"influx-server" env:"INFLUX_SERVER" description:"also write rows to this InfluxDB server"`
	InfluxToken  string `long:"influx-token" env:"INFLUX_TOKEN" description:"InfluxDB token"`
	InfluxOrg    string `long:"influx-org" default:"w1xm" description:"InfluxDB organization"`
	InfluxBucket string `long:"influx-bucket" default:"drive.raw" description:"InfluxDB bucket"`

	HTTP string `long:"http" description:"serve live status on this address, e.g. 127.0.0.1:8502"`
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.LongDescription = "Logs drive telemetry to CSV, optionally moving the motor between two positions."
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func run(opts Options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dict := drive.DefaultDictionary()
	if opts.Dictionary != "" {
		var err error
		if dict, err = drive.LoadDictionary(opts.Dictionary); err != nil {
			return err
		}
	}
	registers := opts.Registers
	if len(registers) == 0 {
		registers = drive.DefaultRegisters()
	}
	for _, name := range registers {
		if _, err := dict.Lookup(name); err != nil {
			return err
		}
	}

	var d drive.Drive
	address := net.JoinHostPort(opts.IP, strconv.Itoa(opts.Port))
	if opts.Simulate {
		sim := simulator.New(dict)
		sim.Speed = 50000
		d = sim
		address = "simulator"
	} else {
		sd, err := summit.Connect(ctx, summit.Config{
			Address:    address,
			Serial:     opts.Serial,
			BaudRate:   opts.Baud,
			URL:        opts.URL,
			Password:   opts.Password,
			SlaveId:    opts.SlaveId,
			Debug:      opts.Debug,
			Dictionary: dict,
		})
		if err != nil {
			return fmt.Errorf("error trying to connect to the drive: %w", err)
		}
		defer sd.Close()
		d = sd
	}

	csvSink, err := rowlog.CreateCSV(opts.Output)
	if err != nil {
		return fmt.Errorf("creating log: %w", err)
	}
	sink := rowlog.Sink(csvSink)
	if opts.InfluxServer != "" {
		sink = rowlog.MultiSink{csvSink, rowlog.NewInfluxSink(
			opts.InfluxServer, opts.InfluxToken, opts.InfluxOrg, opts.InfluxBucket,
			"drive.telemetry", map[string]string{"drive": address})}
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Printf("closing log: %v", err)
		}
	}()

	cfg := datalogger.Config{
		Registers: registers,
		Period:    time.Duration(opts.RefreshTime * float64(time.Millisecond)),
		Sink:      sink,
	}
	if opts.Movement {
		cfg.Motion = &sequencer.Config{
			Position1: float64(opts.Position1),
			Position2: float64(opts.Position2),
			Tolerance: float64(opts.PositionTolerance),
		}
	}
	l, err := datalogger.New(d, cfg)
	if err != nil {
		return err
	}

	if opts.HTTP != "" {
		srv := monitor.NewServer(l, cfg.Period)
		go func() {
			if err := srv.ListenAndServe(ctx, opts.HTTP); err != nil {
				log.Printf("monitor: %v", err)
			}
		}()
	}

	fmt.Println("Type 'quit' to exit...")
	if err := l.Run(ctx, datalogger.StopOnCommand(os.Stdin, "quit")); err != nil {
		log.Printf("run finished with faults: %v", err)
	}
	log.Printf("log written to %s", opts.Output)
	return nil
}
