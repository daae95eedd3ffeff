package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/boltdb/bolt"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/hcl"
	"github.com/rs/zerolog"

	"github.com/deedmark/deed-trade/gateway"
	"github.com/deedmark/deed-trade/holdings"
	"github.com/deedmark/deed-trade/listing"
	"github.com/deedmark/deed-trade/registry"
)

var (
	cfg *config
	db  *bolt.DB
	log zerolog.Logger

	reg      registry.Registry
	payment  registry.PaymentToken
	resolver *gateway.Resolver
	pinner   *gateway.Pinner
	builder  *holdings.Builder
	ledger   *listing.Ledger
)

type config struct {
	Chain            string   `hcl:"chain"`
	Port             int      `hcl:"port"`
	DataDir          string   `hcl:"datadir"`
	RPCEndpoint      string   `hcl:"rpc_endpoint"`
	ChainID          int64    `hcl:"chain_id"`
	RegistryContract string   `hcl:"registry_contract"`
	PaymentContract  string   `hcl:"payment_contract"`
	TransferKey      string   `hcl:"transfer_key"`
	PinnerEndpoint   string   `hcl:"pinner_endpoint"`
	PinnerJWT        string   `hcl:"pinner_jwt"`
	Gateways         []string `hcl:"gateways"`
	ReconcileSecs    int      `hcl:"reconcile_interval_secs"`
}

func init() {
	var confpath string
	flag.StringVar(&confpath, "conf", "", "Specify configuration file")
	flag.Parse()

	cfg = readConfig(confpath)
	log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	db = openDB(fmt.Sprintf("%s/deed-trade.db", cfg.DataDir))
}

func readConfig(confpath string) *config {
	var cfg config

	dat, err := os.ReadFile(confpath)
	if err != nil {
		panic(fmt.Sprintf("unable to read the configuration: %v", err))
	}

	if err = hcl.Unmarshal(dat, &cfg); nil != err {
		panic(fmt.Sprintf("unable to parse the configuration: %v", err))
	}

	if cfg.ReconcileSecs <= 0 {
		cfg.ReconcileSecs = 5
	}

	return &cfg
}

func openDB(dbpath string) *bolt.DB {
	db, err := bolt.Open(dbpath, 0660, nil)
	if err != nil {
		panic(fmt.Sprintf("unable to init the database: %v", err))
	}

	return db
}

func getListingBucketName() string {
	return fmt.Sprintf("listings-%s", cfg.Chain)
}

func main() {
	var err error

	reg, err = registry.Dial(cfg.RPCEndpoint, cfg.RegistryContract, cfg.ChainID, cfg.TransferKey, log.With().Str("component", "registry").Logger())
	if err != nil {
		panic(fmt.Sprintf("unable to reach the registry: %v", err))
	}
	payment, err = registry.DialToken(cfg.RPCEndpoint, cfg.PaymentContract, cfg.ChainID, cfg.TransferKey, log.With().Str("component", "payment").Logger())
	if err != nil {
		panic(fmt.Sprintf("unable to reach the payment token: %v", err))
	}

	resolver = gateway.NewResolver(cfg.Gateways, log.With().Str("component", "gateway").Logger())
	pinner = gateway.NewPinner(cfg.PinnerEndpoint, cfg.PinnerJWT, log.With().Str("component", "pinner").Logger())
	builder = holdings.NewBuilder(reg, log.With().Str("component", "holdings").Logger())

	store, err := listing.NewBoltStore(db, getListingBucketName())
	if err != nil {
		panic(fmt.Sprintf("unable to init the listing ledger: %v", err))
	}
	ledger = listing.New(store, reg, log.With().Str("component", "ledger").Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interval := time.Duration(cfg.ReconcileSecs) * time.Second
	go listing.NewReconciler(ledger, interval, log.With().Str("component", "reconciler").Logger()).Run(ctx)

	r := gin.Default()
	r.GET("/holdings/:account", handleHoldings())
	r.POST("/assets", handleRegisterAsset())
	r.GET("/assets/:cid", handleOpenAsset())
	r.POST("/listings", handleCreateListing())
	r.GET("/listings", handleListListings())
	r.POST("/listings/cancel", handleCancelListing())
	r.POST("/listings/buy", handleBuy())
	r.POST("/listings/payment", handleRecordPayment())
	r.POST("/listings/reconcile/:account", handleReconcile())
	r.POST("/transfer", handleTransfer())
	r.Run(fmt.Sprintf(":%d", cfg.Port))
}
