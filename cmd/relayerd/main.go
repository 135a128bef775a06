// Package main provides relayerd, the darkpool matching relayer daemon.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/darkpool-labs/relayer/internal/config"
	"github.com/darkpool-labs/relayer/internal/darkpool/handshake"
	"github.com/darkpool-labs/relayer/internal/darkpool/match"
	"github.com/darkpool-labs/relayer/internal/darkpool/onchain"
	"github.com/darkpool-labs/relayer/internal/darkpool/price"
	"github.com/darkpool-labs/relayer/internal/darkpool/proof"
	"github.com/darkpool-labs/relayer/internal/darkpool/scalar"
	"github.com/darkpool-labs/relayer/internal/darkpool/scheduler"
	"github.com/darkpool-labs/relayer/internal/darkpool/task"
	"github.com/darkpool-labs/relayer/internal/darkpool/wallet"
	"github.com/darkpool-labs/relayer/internal/node"
	"github.com/darkpool-labs/relayer/internal/storage"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir        = flag.String("data-dir", "~/.relayer", "Data directory")
		configFile     = flag.String("config", "", "Config file path; only its directory is used, and config.yaml in that directory is loaded (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		clusterID      = flag.String("cluster-id", "", "Local MPC cluster identifier")
		rpcURL         = flag.String("rpc-url", "", "Settlement chain RPC endpoint, overrides network default")
		signerKeyHex   = flag.String("signer-key", "", "Hex-encoded ECDSA private key for on-chain settlement submission")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("relayerd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var cfg *node.Config
	var err error
	if *configFile != "" {
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir
	if *clusterID != "" {
		cfg.ClusterID = *clusterID
	}

	networkType := config.Mainnet
	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
		networkType = config.Testnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}

	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Protocol/chain configuration (§6 constants, settlement chain params).
	relayerCfg := config.NewRelayerConfig(networkType)
	endpoint := relayerCfg.Chain.RPCEndpoint
	if *rpcURL != "" {
		endpoint = *rpcURL
	}

	var signerKey *ecdsa.PrivateKey
	if *signerKeyHex != "" {
		signerKey, err = crypto.HexToECDSA(strings.TrimPrefix(*signerKeyHex, "0x"))
		if err != nil {
			log.Fatal("Invalid signer key", "error", err)
		}
	}

	// Storage.
	dataPath := expandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{DataDir: dataPath})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Settlement-chain gateway.
	contractAddr := common.HexToAddress(relayerCfg.Chain.ContractAddress)
	if chainID := relayerCfg.Chain.ChainID; config.IsSettlementDeployed(chainID) {
		contractAddr = config.GetSettlementContract(chainID)
	}
	chainGateway, err := onchain.NewEVMGateway(ctx, endpoint, contractAddr, signerKey, onchain.DefaultParams())
	if err != nil {
		log.Fatal("Failed to initialize settlement chain gateway", "error", err)
	}
	log.Info("Settlement chain gateway initialized", "rpc", endpoint, "contract", contractAddr.Hex())
	startWalletSharesIndexer(ctx, chainGateway, log)

	// Validity-proof gateway, driven by a stub prover: the constraint
	// system itself is a separate collaborator (proof.Prover's doc comment),
	// out of scope here.
	proofGateway := proof.NewBlackBoxGateway(stubProver(log))

	// Price feed, a stub reporting "not enough data" for every pair: the
	// exchange aggregation service itself is out of scope (price.Feed's
	// doc comment).
	priceFeed := stubPriceFeed{}

	// Handshake cache/state, shared between the executor and the
	// settlement manager so a settled request's state transitions are
	// visible to both.
	cache, err := handshake.NewCache(relayerCfg.Protocol.HandshakeCacheSize)
	if err != nil {
		log.Fatal("Failed to initialize handshake cache", "error", err)
	}
	states := handshake.NewStateIndex()

	// Wallet store and settlement/update task manager.
	walletStore := task.NewWalletStore()
	if err := walletStore.LoadSnapshots(store); err != nil {
		log.Warn("Failed to load persisted wallets", "error", err)
	}
	walletStore.SetStorage(store)
	taskManager := task.NewManager(walletStore, states, chainGateway, proofGateway, task.DefaultRetryPolicy(), revalidateWallet)
	taskManager.SetStorage(store)
	taskManager.SetWalletUpdateWitness(walletUpdateWitness)

	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	peerStoreAdapter := node.NewPeerStoreAdapter(store)
	n.SetPeerStoreAdapter(peerStoreAdapter)
	if err := n.LoadPersistedPeers(); err != nil {
		log.Warn("Failed to load persisted peers", "error", err)
	}
	if err := n.SetupDirectMessaging(store, states); err != nil {
		log.Warn("Failed to setup direct messaging", "error", err)
	}

	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	gossipNotifier := node.NewGossipNotifier(n.GossipHandler())
	transport := node.NewHandshakeTransport(n)
	broker := stubMPCBroker{}

	executor := handshake.NewExecutor(cache, states, transport, broker, priceFeed, proofGateway, taskManager, gossipNotifier, handshake.Config{
		MaxDeviation:   relayerCfg.Protocol.MaxDeviation,
		MaxReportAgeMs: relayerCfg.Protocol.MaxReportAgeMs,
		LocalClusterID: cfg.ClusterID,
	})

	orderRegistry := task.NewOrderRegistry()
	orderRegistry.SetStorage(store)
	peerRegistry := node.NewClusterPeerRegistry(n)
	dispatcher := task.NewExecutorDispatcher(orderRegistry, executor)

	listenerResponder := task.NewListenerResponder(orderRegistry, cache, priceFeed)
	node.RegisterHandshakeResponder(n, listenerResponder)

	registerOrderBookGossip(n, store, log)

	sched := scheduler.New(orderRegistry, peerRegistry, dispatcher, scheduler.Config{
		LocalClusterID: cfg.ClusterID,
	}, time.Now().UnixNano())
	sched.Start()

	log.Info("relayerd started", "peer_id", n.ID().String(), "cluster_id", cfg.ClusterID)
	printBanner(log, n, cfg)

	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
	})
	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
	})

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	if err := n.SavePeerCache(); err != nil {
		log.Error("Error saving peer cache", "error", err)
	}

	cancel()
	sched.Stop()
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// startWalletSharesIndexer runs gw's WalletSharesPosted poll on a ticker
// for the life of ctx, so MerkleOpeningFor has a populated event index to
// serve from instead of permanently reporting "no indexed event" — the
// same ticker-driven background loop style as main's peer-status logger,
// adapted here to chain-event indexing instead of status logging.
func startWalletSharesIndexer(ctx context.Context, gw *onchain.EVMGateway, log *logging.Logger) {
	indexerLog := log.Component("onchain-indexer")
	go func() {
		var fromBlock uint64
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			next, err := gw.PollWalletShares(ctx, fromBlock)
			if err != nil && ctx.Err() == nil {
				indexerLog.Warn("Failed to poll wallet shares", "from_block", fromBlock, "error", err)
			} else {
				fromBlock = next
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// revalidateWallet builds the VALID COMMITMENTS/VALID REBLIND jobs the
// settlement manager submits after applying a match, from the wallet's
// current share commitments.
func revalidateWallet(ctx context.Context, w *wallet.Wallet) (proof.Job, proof.Job, error) {
	privateCommitment, err := w.GetPrivateShareCommitment()
	if err != nil {
		return proof.Job{}, proof.Job{}, fmt.Errorf("revalidate: private commitment: %w", err)
	}
	publicCommitment, err := w.GetPublicShareCommitment()
	if err != nil {
		return proof.Job{}, proof.Job{}, fmt.Errorf("revalidate: public commitment: %w", err)
	}

	commitmentsJob := proof.Job{
		Kind:      proof.ValidCommitments,
		Statement: proof.Statement{Kind: proof.ValidCommitments, Public: []scalar.Scalar{publicCommitment}},
		Witness:   []scalar.Scalar{privateCommitment},
	}
	reblindJob := proof.Job{
		Kind:      proof.ValidReblind,
		Statement: proof.Statement{Kind: proof.ValidReblind, Public: []scalar.Scalar{publicCommitment}},
		Witness:   []scalar.Scalar{privateCommitment},
	}
	return commitmentsJob, reblindJob, nil
}

// walletUpdateWitness builds the VALID WALLET UPDATE job for a standalone
// wallet-update task, linking the old wallet's public commitment to the
// new one the same way revalidateWallet links a post-match wallet to its
// refreshed VALID COMMITMENTS/VALID REBLIND jobs.
func walletUpdateWitness(ctx context.Context, old, updated *wallet.Wallet) (proof.Job, error) {
	oldCommitment, err := old.GetPublicShareCommitment()
	if err != nil {
		return proof.Job{}, fmt.Errorf("wallet update witness: old commitment: %w", err)
	}
	newCommitment, err := updated.GetPublicShareCommitment()
	if err != nil {
		return proof.Job{}, fmt.Errorf("wallet update witness: new commitment: %w", err)
	}
	newPrivateCommitment, err := updated.GetPrivateShareCommitment()
	if err != nil {
		return proof.Job{}, fmt.Errorf("wallet update witness: new private commitment: %w", err)
	}

	return proof.Job{
		Kind:      proof.ValidWalletUpdate,
		Statement: proof.Statement{Kind: proof.ValidWalletUpdate, Public: []scalar.Scalar{oldCommitment, newCommitment}},
		Witness:   []scalar.Scalar{newPrivateCommitment},
	}, nil
}

// stubProver is a placeholder validity-proof backend: it produces an
// empty proof object immediately rather than running a constraint system,
// standing in for the actual prover collaborator until one is wired in.
func stubProver(log *logging.Logger) proof.Prover {
	return func(ctx context.Context, job proof.Job) ([]byte, error) {
		log.Debug("Stub prover invoked", "kind", job.Kind.String())
		return []byte{}, nil
	}
}

// stubMPCBroker is a placeholder MPC-net brokering collaborator: the MPC
// protocol and network manager brokering are out of scope for this
// module (handshake.MPCBroker's doc comment).
type stubMPCBroker struct{}

func (stubMPCBroker) RunMatch(ctx context.Context, requestID, peerID string, party0, party1 match.PartyInput, execPrice float64) (match.AuthenticatedMatchResult, error) {
	return match.AuthenticatedMatchResult{}, fmt.Errorf("relayerd: MPC brokering not wired for request %s", requestID)
}

// stubPriceFeed is a placeholder price.Feed: the exchange aggregation
// service itself is out of scope for this module.
type stubPriceFeed struct{}

func (stubPriceFeed) PeekMedian(baseMint, quoteMint string) (price.Report, error) {
	return price.Report{Outcome: price.OutcomeNotEnoughData}, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  Darkpool Matching Relayer (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// registerOrderBookGossip persists remote order announcements/cancellations
// into the order_book table, so the relayer's on-disk book reflects peers'
// gossip rather than only its own locally-registered orders.
func registerOrderBookGossip(n *node.Node, store *storage.Storage, log *logging.Logger) {
	gossipLog := log.Component("order-book-gossip")

	n.GossipHandler().OnMessage(node.RelayMsgOrderAnnounce, func(ctx context.Context, msg *node.RelayMessage) error {
		var payload node.OrderAnnouncePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decode order announce: %w", err)
		}

		side := uint8(wallet.Buy)
		if payload.Side == wallet.Sell.String() {
			side = uint8(wallet.Sell)
		}

		entry := storage.BookEntry{
			OrderID:   payload.OrderID,
			PeerID:    msg.FromPeer,
			BaseMint:  payload.BaseMint,
			QuoteMint: payload.QuoteMint,
			Side:      side,
			IsLocal:   false,
		}
		if err := store.UpsertBookEntry(&entry); err != nil {
			gossipLog.Warn("Failed to persist remote order", "order", payload.OrderID, "error", err)
		}
		return nil
	})

	n.GossipHandler().OnMessage(node.RelayMsgOrderCancel, func(ctx context.Context, msg *node.RelayMessage) error {
		if err := store.DeleteBookEntry(msg.OrderID); err != nil && err != storage.ErrOrderNotFound {
			gossipLog.Warn("Failed to delete remote order", "order", msg.OrderID, "error", err)
		}
		return nil
	})
}
