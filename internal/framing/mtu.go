package framing

// DefaultMTU is the default datagram MTU this implementation budgets for.
const DefaultMTU = 1280

// CryptoOverhead is the nonce+tag overhead added by the crypto layer.
const CryptoOverhead = 24

// MaxFragmentPayload is the largest chunk a single fragment may carry, after
// subtracting crypto, timestamp, and fragment-header overhead from the MTU.
const MaxFragmentPayload = DefaultMTU - CryptoOverhead - TimestampLen - HeaderLen
