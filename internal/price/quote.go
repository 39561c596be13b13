package price

import (
	"net/http"
	"sync"
	"time"

	"github.com/coinpaprika/coinpaprika-api-go-client/v2/coinpaprika"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const ethereumCoinID = "eth-ethereum"

// QuoteSource returns the current ETH price in USD.
type QuoteSource interface {
	EthUSD() (float64, error)
}

type tickerGetter interface {
	GetByID(id string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error)
}

type tickerFunc func(id string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error)

func (f tickerFunc) GetByID(id string, options *coinpaprika.TickersOptions) (*coinpaprika.Ticker, error) {
	return f(id, options)
}

type cachedQuote struct {
	price      float64
	expiration time.Time
}

// PaprikaQuotes caches the coinpaprika ETH/USD ticker for ttl.
type PaprikaQuotes struct {
	tickers tickerGetter
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache *cachedQuote
}

func NewPaprikaQuotes(apiProKey string, timeout, ttl time.Duration) *PaprikaQuotes {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	var client *coinpaprika.Client
	if apiProKey != "" {
		client = coinpaprika.NewClient(httpClient, coinpaprika.WithAPIKey(apiProKey))
	} else {
		client = coinpaprika.NewClient(httpClient)
	}

	return &PaprikaQuotes{
		tickers: tickerFunc(client.Tickers.GetByID),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (q *PaprikaQuotes) EthUSD() (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cache != nil && q.now().Before(q.cache.expiration) {
		return q.cache.price, nil
	}

	ticker, err := q.tickers.GetByID(ethereumCoinID, &coinpaprika.TickersOptions{Quotes: "USD"})
	if err != nil {
		return 0, errors.Wrap(err, "could not fetch ETH ticker")
	}

	usd, ok := ticker.Quotes["USD"]
	if !ok || usd.Price == nil {
		return 0, errors.New("ETH ticker has no USD quote")
	}

	q.cache = &cachedQuote{price: *usd.Price, expiration: q.now().Add(q.ttl)}
	log.Debugf("ETH quote refreshed: $%.2f", *usd.Price)
	return *usd.Price, nil
}
