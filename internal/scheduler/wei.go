package scheduler

import "math/big"

type bigInt = big.Int

var weiPerEther = new(big.Float).SetFloat64(1e18)

func weiToEther(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, weiPerEther)
	v, _ := f.Float64()
	return v
}
