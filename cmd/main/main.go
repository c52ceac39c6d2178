package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"gatepass/pkg/config"
	"gatepass/pkg/filedb"
	"gatepass/pkg/info"
	"gatepass/pkg/ingress"
	"gatepass/pkg/ledger"
	"gatepass/pkg/market"
	"gatepass/pkg/model"
	"gatepass/pkg/registry"
	"gatepass/pkg/xetcd"
	"gatepass/pkg/xlog"

	"github.com/shopspring/decimal"
)

var logger = xlog.GetLogger()

var (
	fApp     string
	fVenue   string
	fLogDir  string
	fLogFile string
)

var (
	apps = map[string]bool{"market": true, "ingress": true, "demo": true, "fm": true}
)

func init() {
	flag.StringVar(&fApp, "app", "", "")
	flag.StringVar(&fVenue, "venue", "", "")
	flag.StringVar(&fLogDir, "logdir", "", "")
	flag.StringVar(&fLogFile, "logfile", "", "")
}

func main() {
	var err error
	flag.Parse()

	if !apps[fApp] {
		validApps := ""
		for k := range apps {
			validApps += k + ", "
		}
		panic("invalid app, only (" + validApps + ") avaliable")
	}

	// Initialize the Shared config
	config.EasyInit()

	if fVenue == "" {
		fVenue = config.Shared.Market.Venue
	}

	// Initialize the logger
	if fLogDir == "" {
		fLogDir = filepath.Join(config.Shared.DataDir, "logs")
	}
	if fLogFile == "" {
		fLogFile = fApp + ".log"
	}
	logPath := filepath.Join(fLogDir, fLogFile)
	xlog.Init(fApp, logPath)
	logger.Info(fApp + " started")
	logger.Infof("version:%s-%s rev:%s instance:%s mode:%s",
		info.Version, info.Dist, info.GitRev, info.InstanceID, info.EnvMode)
	logger.Infof("xlog in %s", logPath)

	// Handle signals
	go handleSignals()

	// Initialize the etcd instance
	err = xetcd.InitShared([]string{config.Shared.Etcd.Main.Url})
	if err != nil {
		logger.Errorf("xetcd.InitShared failed with err:%s", err)
		panic(err)
	}

	// Initialize the database instances(mysql, redis)
	// fatal if failed
	model.DBInit()

	// Start the app
	switch fApp {
	case "":
		return
	case "market":
		err = startMarket()
	case "ingress":
		err = startIngress()
	case "demo":
		err = runDemo()
	case "fm":
		err = startFiledbMonitor()
	default:
		return
	}

	if err != nil {
		logger.Error(err)
		panic(err)
	}
}

// handleSignals handles linux signals
//
//	Function 1: Change log level via SIGUSR1 signal
//		docker exec <container_id> sh -c 'export GPLOG_LVL=TRACE && kill -SIGUSR1 1'
func handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1)
	logLevelChan := make(chan string)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGUSR1 {
				// Read log level from environment variable
				level := os.Getenv("GPLOG_LVL")
				if level != "" {
					logLevelChan <- level
				}
			}
		case level := <-logLevelChan:
			logger := xlog.GetLogger()
			logger.SetLevel(level)
			logger.Infof("Log level set to %s via signal", level)
		}
	}
}

// bootstrapCollaborators builds the settlement ledger and asset
// registry the market settles against, with the one-shot currency mint
// to the treasury account.
func bootstrapCollaborators() (sl *ledger.Ledger, ar *registry.Registry, err error) {
	mc := config.Shared.Market

	sl = ledger.New()
	ar = registry.New()

	if mc.InitialMint > 0 {
		err = sl.Mint(mc.Treasury, decimal.NewFromInt(mc.InitialMint))
		if err != nil {
			return
		}
	}

	return
}

// startMarket starts the market app for one venue
func startMarket() (err error) {
	mc := config.Shared.Market

	sl, ar, err := bootstrapCollaborators()
	if err != nil {
		return
	}

	m, err := market.New(market.Config{
		Venue:      fVenue,
		Organizer:  mc.Organizer,
		Escrow:     mc.Escrow,
		Supply:     mc.Supply,
		Price:      mc.Price,
		RoyaltyPct: mc.RoyaltyPct,
	}, sl, ar)
	if err != nil {
		return
	}

	m.UseRedis(model.GetRedis())

	err = m.Run()
	if err != nil {
		return
	}

	return
}

// startIngress starts the ingress app
//
//	Function 1: Generate primary purchase intents and send to NATS
//	Function 2: Benchmark the ingress app
func startIngress() (err error) {
	ing := ingress.New()

	for i := 0; i < 100; i++ {
		_, err = ing.GetNats(fVenue)
		if err != nil {
			logger.Errorf("ing.GetNats %s failed with err:%s", fVenue, err)
		} else {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		return
	}

	price := config.Shared.Market.Price

	ch := make(chan int64, 1024)
	ch2 := make(chan int64, 1024)
	curr := 16
	sentReqs := int64(0)
	targetReqs := int64(100_000)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		for {
			num, ok := <-ch2
			if !ok {
				logger.Infof("comsumer:ch2 done")
				return
			}
			sentReqs += num
			if sentReqs >= targetReqs {
				wg.Done()
			}
		}
	}()

	for i := 0; i < curr; i++ {
		go func(j int) {
			for {
				account, ok := <-ch
				if !ok {
					logger.Infof("comsumer:%d done", j)
					ch2 <- 1
					return
				}
				err := ing.SendPrimaryPurchase(fVenue, account, price)
				if err != nil {
					logger.Errorf("SendPrimaryPurchase failed with err:%s", err)
				}
				ch2 <- 1
			}
		}(i)
	}

	start := time.Now()
	for i := 0; i < int(targetReqs); i++ {
		ch <- 1 + rand.Int63n(1000)
	}

	wg.Wait()

	// Benchmark result

	rate := int64(0)
	if int64(time.Since(start).Seconds()) > 0 {
		rate = sentReqs / int64(time.Since(start).Seconds())
	}
	fmt.Printf(
		"Benchmark: Ingress sent %d reqs to NATS in %s at %s with rate %d/sec\n",
		targetReqs, time.Since(start), time.Now().Format(time.RFC3339), rate,
	)

	return
}

// startFiledbMonitor starts the filedb monitor app
//
//	Function 1: Monitor the filedb log files and print the benchmark result every 30 seconds
func startFiledbMonitor() (err error) {
	for {
		time.Sleep(30 * time.Second)
		err = runFiledbMonitorOne()
		if err != nil {
			logger.Errorf("runFiledbMonitorOne failed with err:%s", err)
		}
	}
}

// runFiledbMonitorOne runs the filedb monitor one time
//
//	Function 1: Traverse all files ending with .log,
//		read the first and last line of each file,
//		each line should be a json object,
//		parse out {ts: nanosec, logID: int64} values,
//		calculate the time difference and logID difference, and output
func runFiledbMonitorOne() (err error) {
	filedbLogDir := path.Join(config.Shared.DataDir, "filedb")

	err = filepath.Walk(filedbLogDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			fdb, err := filedb.New(path)
			if err != nil {
				return err
			}
			err = fdb.Open()
			if err != nil {
				return err
			}
			defer fdb.Close()

			firstLine, err := fdb.ReadFirstLine()
			if err != nil {
				return err
			}
			lastLine, err := fdb.ReadLastLine()
			if err != nil {
				return err
			}

			var firstLog, lastLog struct {
				Ts    int64 `json:"ts"`
				LogID int64 `json:"logID"`
			}

			if err := json.Unmarshal([]byte(firstLine), &firstLog); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(lastLine), &lastLog); err != nil {
				return err
			}

			timeDiff := (lastLog.Ts - firstLog.Ts)
			logIDDiff := lastLog.LogID - firstLog.LogID

			// timeDiff to duration
			duration := time.Duration(timeDiff) * time.Nanosecond
			lastLogTime := time.Unix(0, lastLog.Ts)

			rate := int64(0)
			if int64(duration.Seconds()) > 0 {
				rate = logIDDiff / int64(duration.Seconds())
			}
			fmt.Printf(
				"Benchmark: %s saved %d logs to filedb in %s at %s with rate %d/sec\n",
				path, logIDDiff, duration, lastLogTime.Format(time.RFC3339), rate,
			)
		}
		return nil
	})
	if err != nil {
		return
	}

	return
}
