package weir

import "sync"

// objectPools holds the sync.Pool instances an App recycles its per-request
// Request and Response values through, to avoid an allocation on every
// incoming connection.
type objectPools struct {
	requests  *sync.Pool
	responses *sync.Pool
}

func newObjectPools() *objectPools {
	return &objectPools{
		requests: &sync.Pool{
			New: func() interface{} { return newRequest() },
		},
		responses: &sync.Pool{
			New: func() interface{} { return newResponse() },
		},
	}
}

func (p *objectPools) getRequest() *Request {
	return p.requests.Get().(*Request)
}

func (p *objectPools) putRequest(r *Request) {
	r.reset()
	p.requests.Put(r)
}

func (p *objectPools) getResponse() *Response {
	return p.responses.Get().(*Response)
}

func (p *objectPools) putResponse(r *Response) {
	r.reset()
	p.responses.Put(r)
}
