package shelltune

import (
	"math"
	"sync"
)

// encoderForward sums the token embedding and position embedding for every
// (batch, position) pair into a single encoded vector.
func encoderForward(out []float32, inp []int32, wte, wpe []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			outBT := out[b*T*C+t*C:]
			wteRow := wte[int(inp[b*T+t])*C:]
			wpeRow := wpe[t*C:]
			for i := 0; i < C; i++ {
				outBT[i] = wteRow[i] + wpeRow[i]
			}
		}
	}
}

// layernormForward normalizes each C-vector to zero mean and unit variance,
// then scales and shifts. mean and rstd are kept for the backward pass.
func layernormForward(out, mean, rstd, inp, weight, bias []float32, B, T, C int) {
	const eps = 1e-5
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			x := inp[b*T*C+t*C:]
			var m float64
			for i := 0; i < C; i++ {
				m += float64(x[i])
			}
			m /= float64(C)
			var v float64
			for i := 0; i < C; i++ {
				xshift := float64(x[i]) - m
				v += xshift * xshift
			}
			v /= float64(C)
			s := 1.0 / math.Sqrt(v+eps)
			outBT := out[b*T*C+t*C:]
			for i := 0; i < C; i++ {
				n := s * (float64(x[i]) - m)
				outBT[i] = float32(n*float64(weight[i]) + float64(bias[i]))
			}
			mean[b*T+t] = float32(m)
			rstd[b*T+t] = float32(s)
		}
	}
}

// layernormBackward propagates gradients through layernorm. dweight and dbias
// may be nil when the affine parameters are frozen.
func layernormBackward(dinp, dweight, dbias, dout, inp, weight, mean, rstd []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			base := b*T*C + t*C
			doutBT := dout[base : base+C]
			inpBT := inp[base : base+C]
			dinpBT := dinp[base : base+C]
			meanBT := mean[b*T+t]
			rstdBT := rstd[b*T+t]

			var dnormMean, dnormNormMean float32
			for i := 0; i < C; i++ {
				normBTI := (inpBT[i] - meanBT) * rstdBT
				dnormI := weight[i] * doutBT[i]
				dnormMean += dnormI
				dnormNormMean += dnormI * normBTI
			}
			dnormMean /= float32(C)
			dnormNormMean /= float32(C)

			for i := 0; i < C; i++ {
				normBTI := (inpBT[i] - meanBT) * rstdBT
				dnormI := weight[i] * doutBT[i]
				if dbias != nil {
					dbias[i] += doutBT[i]
				}
				if dweight != nil {
					dweight[i] += normBTI * doutBT[i]
				}
				dval := dnormI - dnormMean - normBTI*dnormNormMean
				dinpBT[i] += dval * rstdBT
			}
		}
	}
}

// matmulForward computes out = inp @ weight^T + bias for every (b, t)
// position, parallelized across positions.
func matmulForward(out, inp, weight, bias []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			wg.Add(1)
			go func(b, t int) {
				defer wg.Done()
				inpBT := inp[b*T*C+t*C:]
				outBT := out[b*T*OC+t*OC:]
				for o := 0; o < OC; o++ {
					var val float64
					if bias != nil {
						val = float64(bias[o])
					}
					wrow := weight[o*C:]
					for i := 0; i < C; i++ {
						val += float64(inpBT[i]) * float64(wrow[i])
					}
					outBT[o] = float32(val)
				}
			}(b, t)
		}
	}
	wg.Wait()
}

// matmulBackward propagates gradients through a matmul. dweight and dbias may
// be nil when the projection weights are frozen; dinp is always written.
func matmulBackward(dinp, dweight, dbias, dout, inp, weight []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			wg.Add(1)
			go func(b, t int) {
				defer wg.Done()
				doutBT := dout[b*T*OC+t*OC:]
				dinpBT := dinp[b*T*C+t*C:]
				for o := 0; o < OC; o++ {
					wrow := weight[o*C:]
					d := doutBT[o]
					for i := 0; i < C; i++ {
						dinpBT[i] += wrow[i] * d
					}
				}
			}(b, t)
		}
	}
	wg.Wait()
	if dweight == nil && dbias == nil {
		return
	}
	for o := 0; o < OC; o++ {
		wg.Add(1)
		go func(o int) {
			defer wg.Done()
			for b := 0; b < B; b++ {
				for t := 0; t < T; t++ {
					doutBT := dout[b*T*OC+t*OC:]
					inpBT := inp[b*T*C+t*C:]
					d := doutBT[o]
					if dbias != nil {
						dbias[o] += d
					}
					if dweight != nil {
						dwrow := dweight[o*C:]
						for i := 0; i < C; i++ {
							dwrow[i] += inpBT[i] * d
						}
					}
				}
			}
		}(o)
	}
	wg.Wait()
}

// loraForward adds the low-rank adapter contribution scale*(B@(A@x)) on top
// of an already computed base projection. The rank-r intermediate is stored
// in h for the backward pass. mask is an optional dropout mask over the
// input; nil means no dropout.
func loraForward(out, inp, mask, aw, bw, h []float32, B, T, C, OC, r int, scale float32) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			wg.Add(1)
			go func(b, t int) {
				defer wg.Done()
				inpBT := inp[b*T*C+t*C:]
				var maskBT []float32
				if mask != nil {
					maskBT = mask[b*T*C+t*C:]
				}
				hBT := h[b*T*r+t*r:]
				for j := 0; j < r; j++ {
					arow := aw[j*C:]
					var val float64
					for i := 0; i < C; i++ {
						x := inpBT[i]
						if maskBT != nil {
							x *= maskBT[i]
						}
						val += float64(arow[i]) * float64(x)
					}
					hBT[j] = float32(val)
				}
				outBT := out[b*T*OC+t*OC:]
				for o := 0; o < OC; o++ {
					brow := bw[o*r:]
					var val float64
					for j := 0; j < r; j++ {
						val += float64(brow[j]) * float64(hBT[j])
					}
					outBT[o] += scale * float32(val)
				}
			}(b, t)
		}
	}
	wg.Wait()
}

// loraBackward accumulates adapter gradients da/db and the input gradient for
// the adapter path. h and mask must be the tensors stored by loraForward.
func loraBackward(dinp, da, db, dout, inp, mask, aw, bw, h []float32, B, T, C, OC, r int, scale float32) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			doutBT := dout[b*T*OC+t*OC:]
			inpBT := inp[b*T*C+t*C:]
			var maskBT []float32
			if mask != nil {
				maskBT = mask[b*T*C+t*C:]
			}
			hBT := h[b*T*r+t*r:]
			dinpBT := dinp[b*T*C+t*C:]
			dh := make([]float32, r)
			for o := 0; o < OC; o++ {
				d := doutBT[o]
				brow := bw[o*r:]
				dbrow := db[o*r:]
				for j := 0; j < r; j++ {
					dh[j] += scale * brow[j] * d
					dbrow[j] += scale * d * hBT[j]
				}
			}
			for j := 0; j < r; j++ {
				arow := aw[j*C:]
				darow := da[j*C:]
				dhj := dh[j]
				for i := 0; i < C; i++ {
					x := inpBT[i]
					m := float32(1.0)
					if maskBT != nil {
						m = maskBT[i]
						x *= m
					}
					darow[i] += dhj * x
					dinpBT[i] += arow[i] * dhj * m
				}
			}
		}
	}
}

// attentionForward computes causal multi-head attention over the fused QKV
// activations. preatt and att keep the raw and normalized scores for the
// backward pass. Attention is the only operation that mixes information
// across time; everything else is positionwise.
func attentionForward(out, preatt, att, inp []float32, B, T, C, NH int) {
	C3 := C * 3
	hs := C / NH
	scale := 1.0 / math.Sqrt(float64(hs))
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			for h := 0; h < NH; h++ {
				wg.Add(1)
				go func(b, t, h int) {
					defer wg.Done()
					queryT := inp[b*T*C3+t*C3+h*hs:]
					preattBTH := preatt[b*NH*T*T+h*T*T+t*T:]
					attBTH := att[b*NH*T*T+h*T*T+t*T:]
					maxval := -10000.0
					for t2 := 0; t2 <= t; t2++ {
						keyT2 := inp[b*T*C3+t2*C3+h*hs+C:]
						var val float64
						for i := 0; i < hs; i++ {
							val += float64(queryT[i]) * float64(keyT2[i])
						}
						val *= scale
						if val > maxval {
							maxval = val
						}
						preattBTH[t2] = float32(val)
					}
					var expsum float64
					for t2 := 0; t2 <= t; t2++ {
						expv := math.Exp(float64(preattBTH[t2]) - maxval)
						expsum += expv
						attBTH[t2] = float32(expv)
					}
					var expsumInv float64
					if expsum != 0.0 {
						expsumInv = 1.0 / expsum
					}
					for t2 := 0; t2 < T; t2++ {
						if t2 <= t {
							attBTH[t2] *= float32(expsumInv)
						} else {
							attBTH[t2] = 0.0
						}
					}
					outBTH := out[b*T*C+t*C+h*hs:]
					for i := 0; i < hs; i++ {
						outBTH[i] = 0.0
					}
					for t2 := 0; t2 <= t; t2++ {
						valueT2 := inp[b*T*C3+t2*C3+h*hs+C*2:]
						a := attBTH[t2]
						for i := 0; i < hs; i++ {
							outBTH[i] += a * valueT2[i]
						}
					}
				}(b, t, h)
			}
		}
	}
	wg.Wait()
}

// attentionBackward propagates gradients through the attention mechanism.
// All outputs are activation gradients; attention has no parameters.
func attentionBackward(dinp, dpreatt, datt, dout, inp, att []float32, B, T, C, NH int) {
	C3 := C * 3
	hs := C / NH
	scale := float32(1.0 / math.Sqrt(float64(hs)))
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			for h := 0; h < NH; h++ {
				attBTH := att[b*NH*T*T+h*T*T+t*T:]
				dattBTH := datt[b*NH*T*T+h*T*T+t*T:]
				dpreattBTH := dpreatt[b*NH*T*T+h*T*T+t*T:]
				dqueryT := dinp[b*T*C3+t*C3+h*hs:]
				queryT := inp[b*T*C3+t*C3+h*hs:]

				doutBTH := dout[b*T*C+t*C+h*hs:]
				for t2 := 0; t2 <= t; t2++ {
					valueT2 := inp[b*T*C3+t2*C3+h*hs+C*2:]
					dvalueT2 := dinp[b*T*C3+t2*C3+h*hs+C*2:]
					for i := 0; i < hs; i++ {
						dattBTH[t2] += valueT2[i] * doutBTH[i]
						dvalueT2[i] += attBTH[t2] * doutBTH[i]
					}
				}
				for t2 := 0; t2 <= t; t2++ {
					for t3 := 0; t3 <= t; t3++ {
						var indicator float32
						if t2 == t3 {
							indicator = 1.0
						}
						localDerivative := attBTH[t2] * (indicator - attBTH[t3])
						dpreattBTH[t3] += localDerivative * dattBTH[t2]
					}
				}
				for t2 := 0; t2 <= t; t2++ {
					keyT2 := inp[b*T*C3+t2*C3+h*hs+C:]
					dkeyT2 := dinp[b*T*C3+t2*C3+h*hs+C:]
					for i := 0; i < hs; i++ {
						dqueryT[i] += keyT2[i] * dpreattBTH[t2] * scale
						dkeyT2[i] += queryT[i] * dpreattBTH[t2] * scale
					}
				}
			}
		}
	}
}

var geluScalingFactor = math.Sqrt(2.0 / math.Pi)

func geluForward(out, inp []float32, n int) {
	for i := 0; i < n; i++ {
		x := float64(inp[i])
		cube := 0.044715 * x * x * x
		out[i] = float32(0.5 * x * (1.0 + math.Tanh(geluScalingFactor*(x+cube))))
	}
}

func geluBackward(dinp, inp, dout []float32, n int) {
	for i := 0; i < n; i++ {
		x := float64(inp[i])
		cube := 0.044715 * x * x * x
		tanhArg := geluScalingFactor * (x + cube)
		tanhOut := math.Tanh(tanhArg)
		coshOut := math.Cosh(tanhArg)
		sechOut := 1.0 / (coshOut * coshOut)
		localGrad := 0.5*(1.0+tanhOut) + x*0.5*sechOut*geluScalingFactor*(1.0+3.0*0.044715*x*x)
		dinp[i] += float32(localGrad) * dout[i]
	}
}

func residualForward(out, inp1, inp2 []float32, n int) {
	for i := 0; i < n; i++ {
		out[i] = inp1[i] + inp2[i]
	}
}

func residualBackward(dinp1, dinp2, dout []float32, n int) {
	for i := 0; i < n; i++ {
		dinp1[i] += dout[i]
		dinp2[i] += dout[i]
	}
}

func softmaxForward(probs, logits []float32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			base := b*T*V + t*V
			logitsBT := logits[base : base+V]
			probsBT := probs[base : base+V]
			maxval := float32(-10000.0)
			for i := 0; i < V; i++ {
				if logitsBT[i] > maxval {
					maxval = logitsBT[i]
				}
			}
			var sum float64
			for i := 0; i < V; i++ {
				probsBT[i] = float32(math.Exp(float64(logitsBT[i] - maxval)))
				sum += float64(probsBT[i])
			}
			for i := 0; i < V; i++ {
				probsBT[i] /= float32(sum)
			}
		}
	}
}

func crossEntropyForward(losses, probs []float32, targets []int32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			ix := targets[b*T+t]
			prob := probs[int32(b*T*V+t*V)+ix]
			losses[b*T+t] = float32(-math.Log(float64(prob)))
		}
	}
}

func crossentropySoftmaxBackward(dlogits, dlosses, probs []float32, targets []int32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			base := b*T*V + t*V
			dlogitsBT := dlogits[base : base+V]
			probsBT := probs[base : base+V]
			dloss := dlosses[b*T+t]
			ix := targets[b*T+t]
			for i := 0; i < V; i++ {
				var indicator float32
				if int32(i) == ix {
					indicator = 1.0
				}
				dlogitsBT[i] += (probsBT[i] - indicator) * dloss
			}
		}
	}
}
