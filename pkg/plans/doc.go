// Package plans defines the static plan catalog: which quotas each plan
// grants per cycle and which provider price identifiers sell it.
//
// Quotas are a tagged type. A Quota is either Unlimited or Limited(n), and
// an unlimited quota can never be decremented or compared as a number. In
// JSON and YAML it is written as the string "unlimited".
//
// The built-in catalog grants free 20 images and 10 texts, basic 300 and
// 100, and pro unlimited. Deployments that sell paid plans load a YAML file:
//
//	plans:
//	  free:  {images: 20, text: 10}
//	  basic:
//	    images: 300
//	    text: 100
//	    prices:
//	      monthly: {USD: price_basic_m}
//	  pro:
//	    prices:
//	      yearly: {USD: price_pro_y}
//
// Cycle keys accept provider spellings such as "month" and "annual" and are
// stored normalized. Currencies are ISO 4217 codes.
package plans
